// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Device enumeration errors.
var (
	// ErrNoVFIODevices indicates the host vfio group directory could not be opened.
	ErrNoVFIODevices = &BrokerError{
		Kind:   ErrEnumeration,
		Detail: "no vfio device directory available",
	}

	// ErrVFIOGroupBusy indicates a vfio group could not be opened, likely because
	// it is already assigned to a guest.
	ErrVFIOGroupBusy = &BrokerError{
		Kind:   ErrEnumeration,
		Detail: "vfio group busy or assigned to a guest",
	}

	// ErrMultipleDevicesInGroup indicates a vfio group contains more than one
	// device, which this broker does not support.
	ErrMultipleDevicesInGroup = &BrokerError{
		Kind:   ErrEnumeration,
		Detail: "multiple devices in vfio group",
	}

	// ErrNotQATDevice indicates a discovered PCI device is not a supported QAT VF.
	ErrNotQATDevice = &BrokerError{
		Kind:   ErrEnumeration,
		Detail: "not a QAT device",
	}
)

// Section lifecycle errors.
var (
	// ErrSectionNotFound indicates the requested section index does not exist.
	ErrSectionNotFound = &BrokerError{
		Kind:   ErrNotFound,
		Detail: "section not found",
	}

	// ErrSectionAlreadyAssigned indicates the client already holds a section.
	ErrSectionAlreadyAssigned = &BrokerError{
		Kind:   ErrInvalidState,
		Detail: "section already allocated",
	}

	// ErrSectionNotAssigned indicates the client does not currently hold a section.
	ErrSectionNotAssigned = &BrokerError{
		Kind:   ErrInvalidState,
		Detail: "section not allocated",
	}

	// ErrSectionNameMismatch indicates a release request's name does not match
	// the section currently held by the caller.
	ErrSectionNameMismatch = &BrokerError{
		Kind:   ErrInvalidState,
		Detail: "section name mismatch",
	}

	// ErrNoSectionAvailable indicates every section is currently held by another client.
	ErrNoSectionAvailable = &BrokerError{
		Kind:   ErrResource,
		Detail: "no section available",
	}
)

// Protocol errors.
var (
	// ErrBadVersion indicates a request with an incompatible protocol version.
	ErrBadVersion = &BrokerError{
		Kind:   ErrProtocol,
		Detail: "protocol version mismatch",
	}

	// ErrBadLength indicates a request whose declared length is inconsistent
	// with its message type.
	ErrBadLength = &BrokerError{
		Kind:   ErrProtocol,
		Detail: "inconsistent message length",
	}

	// ErrUnknownMessageType indicates an unrecognized message type.
	ErrUnknownMessageType = &BrokerError{
		Kind:   ErrProtocol,
		Detail: "unknown message type",
	}

	// ErrInvalidIndex indicates a section, device, or instance index out of range.
	ErrInvalidIndex = &BrokerError{
		Kind:   ErrProtocol,
		Detail: "invalid index",
	}
)

// Capability query errors.
var (
	// ErrIncompatiblePF indicates the PF driver reported an incompatible
	// control-channel version.
	ErrIncompatiblePF = &BrokerError{
		Kind:   ErrCapability,
		Detail: "incompatible PF driver version",
	}

	// ErrUnknownService indicates a ring-to-service map entry did not decode
	// to a known service type.
	ErrUnknownService = &BrokerError{
		Kind:   ErrCapability,
		Detail: "unknown service type",
	}

	// ErrBankNotFound indicates no ring bank matched the requested service
	// and instance index.
	ErrBankNotFound = &BrokerError{
		Kind:   ErrCapability,
		Detail: "no matching ring bank for service",
	}
)

// Configuration errors.
var (
	// ErrPolicyExceedsDevices indicates the requested section policy could not
	// be satisfied by the number of devices discovered.
	ErrPolicyExceedsDevices = &BrokerError{
		Kind:   ErrInvalidConfig,
		Detail: "policy exceeds available devices",
	}

	// ErrInvalidPolicy indicates a negative or otherwise nonsensical policy value.
	ErrInvalidPolicy = &BrokerError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid section policy",
	}
)
