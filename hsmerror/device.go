package hsmerror

// DeviceErrorKind enumerates the conditions the HSM itself reports in the
// one-byte body of a response code 0x7f ("error"). The table is normative
// per spec.md §6; it is the full set, not the ~11-entry subset the teacher
// implemented.
type DeviceErrorKind uint8

const (
	DeviceInvalidCommand           DeviceErrorKind = 0x01
	DeviceInvalidData              DeviceErrorKind = 0x02
	DeviceInvalidSession           DeviceErrorKind = 0x03
	DeviceAuthenticationFailed     DeviceErrorKind = 0x04
	DeviceSessionsFull             DeviceErrorKind = 0x05
	DeviceSessionFailed            DeviceErrorKind = 0x06
	DeviceStorageFailed            DeviceErrorKind = 0x07
	DeviceWrongLength              DeviceErrorKind = 0x08
	DeviceInsufficientPermissions  DeviceErrorKind = 0x09
	DeviceLogFull                  DeviceErrorKind = 0x0a
	DeviceObjectNotFound           DeviceErrorKind = 0x0b
	DeviceInvalidId                DeviceErrorKind = 0x0c
	DeviceInvalidOtp               DeviceErrorKind = 0x0d
	DeviceDemoMode                 DeviceErrorKind = 0x0e
	DeviceCommandUnexecuted        DeviceErrorKind = 0x0f
	DeviceGenericError             DeviceErrorKind = 0x10
	DeviceObjectExists             DeviceErrorKind = 0x11
	DeviceSshCaConstraintViolation DeviceErrorKind = 0x12
)

var deviceErrorNames = map[DeviceErrorKind]string{
	DeviceInvalidCommand:           "invalid command",
	DeviceInvalidData:              "invalid data",
	DeviceInvalidSession:           "invalid session",
	DeviceAuthenticationFailed:     "authentication failed",
	DeviceSessionsFull:             "sessions full",
	DeviceSessionFailed:            "session failed",
	DeviceStorageFailed:            "storage failed",
	DeviceWrongLength:              "wrong length",
	DeviceInsufficientPermissions:  "insufficient permissions",
	DeviceLogFull:                  "log full",
	DeviceObjectNotFound:           "object not found",
	DeviceInvalidId:                "invalid id",
	DeviceInvalidOtp:               "invalid otp",
	DeviceDemoMode:                 "demo mode",
	DeviceCommandUnexecuted:        "command unexecuted",
	DeviceGenericError:             "generic error",
	DeviceObjectExists:             "object exists",
	DeviceSshCaConstraintViolation: "ssh ca constraint violation",
}

func (d DeviceErrorKind) String() string {
	if name, ok := deviceErrorNames[d]; ok {
		return name
	}
	return "unknown device error"
}
