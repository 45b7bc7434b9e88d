package raft

// Role is a server's position in the Raft membership/voting state machine.
// Inactive is initial and terminal; Reserve promotes to Passive then
// Follower; Follower/Candidate/Leader are the classic Raft triangle.
type Role uint8

const (
	RoleInactive Role = iota
	RoleReserve
	RolePassive
	RoleFollower
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleInactive:
		return "inactive"
	case RoleReserve:
		return "reserve"
	case RolePassive:
		return "passive"
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}
