package controlloop

import "fmt"

// TargetAddressForTeam computes the conventional FRC roboRIO address
// for a team number: team 0 is the simulator loopback, every other
// team is 10.<team/100>.<team%100>.2. SetTargetIP overrides this.
func TargetAddressForTeam(team uint32) string {
	if team == 0 {
		return "127.0.0.1"
	}
	return fmt.Sprintf("10.%d.%d.2", team/100, team%100)
}
