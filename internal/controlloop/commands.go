package controlloop

import "drivestation/internal/dsstate"

// Command is the sealed set of inputs the control loop accepts on its
// command channel, applied strictly in FIFO order.
type Command interface {
	isCommand()
}

// SetTeamNumber recomputes the target address from the FRC team number
// (see TargetAddressForTeam) and resets RobotStatus.
type SetTeamNumber struct {
	Team uint32
}

// SetTargetIP overrides the computed target address directly and resets
// RobotStatus.
type SetTargetIP struct {
	IP string
}

// SetMode switches the operating mode and forces Enabled=false.
type SetMode struct {
	Mode dsstate.Mode
}

// Enable is silently rejected while estopped or disconnected.
type Enable struct{}

// Disable clears Enabled unconditionally.
type Disable struct{}

// EStop sets a sticky estop latch and clears Enabled.
type EStop struct{}

// SetAlliance changes the alliance station byte sent in every frame.
type SetAlliance struct {
	Alliance dsstate.AllianceStation
}

// RebootRio clears EStop and Enabled and arms the one-shot reboot
// request bit.
type RebootRio struct{}

// RestartCode arms the one-shot restart-code request bit.
type RestartCode struct{}

// SetGameData sets the optional game-data string (<= 64 bytes) sent in
// the 0x10 tag; empty suppresses the tag.
type SetGameData struct {
	Data string
}

func (SetTeamNumber) isCommand() {}
func (SetTargetIP) isCommand()   {}
func (SetMode) isCommand()       {}
func (Enable) isCommand()        {}
func (Disable) isCommand()       {}
func (EStop) isCommand()         {}
func (SetAlliance) isCommand()   {}
func (RebootRio) isCommand()     {}
func (RestartCode) isCommand()   {}
func (SetGameData) isCommand()   {}
