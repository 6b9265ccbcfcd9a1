package ops

// CommandStatus is the numeric result code returned for every facade
// command. The values are stable: CLIs use them as process exit codes and
// remote callers switch on them.
type CommandStatus int

const (
	Succeeded    CommandStatus = 0
	Failed       CommandStatus = 1
	Blocked      CommandStatus = 2
	InErrorState CommandStatus = 3

	InvalidControlIP CommandStatus = 10

	InvalidSchedule       CommandStatus = 21
	DomeNotAutomatic      CommandStatus = 22
	DomeNotClosed         CommandStatus = 23
	TelescopeNotAutomatic CommandStatus = 24
	EnvironmentNotSafe    CommandStatus = 25
)

// Message returns the operator-facing description for a result code.
func (s CommandStatus) Message() string {
	switch s {
	case Succeeded:
		return "command succeeded"
	case Failed:
		return "command failed"
	case Blocked:
		return "another command is already running"
	case InErrorState:
		return "subsystem requires a manual reset"
	case InvalidControlIP:
		return "command not accepted from this machine"
	case InvalidSchedule:
		return "schedule failed validation"
	case DomeNotAutomatic:
		return "dome is not in automatic mode"
	case DomeNotClosed:
		return "dome is not closed"
	case TelescopeNotAutomatic:
		return "telescope is not in automatic mode"
	case EnvironmentNotSafe:
		return "environment is not safe"
	default:
		return "unknown result code"
	}
}
