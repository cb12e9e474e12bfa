package sequencer

// State is the progress of a run. States only move forward.
type State int

const (
	Init State = iota
	DiscoveryVerified
	DeviceAggregateSent
	DeviceDatastreamSent
	DevicePropertySent
	DevicePropertyUnset
	ServerAggregateVerified
	ServerDatastreamVerified
	ServerPropertyVerified
	ServerPropertyUnsetVerified
	Done
)

var stateNames = [...]string{
	Init:                        "init",
	DiscoveryVerified:           "discovery verified",
	DeviceAggregateSent:         "device aggregate sent",
	DeviceDatastreamSent:        "device datastream sent",
	DevicePropertySent:          "device property sent",
	DevicePropertyUnset:         "device property unset",
	ServerAggregateVerified:     "server aggregate verified",
	ServerDatastreamVerified:    "server datastream verified",
	ServerPropertyVerified:      "server property verified",
	ServerPropertyUnsetVerified: "server property unset verified",
	Done:                        "done",
}

func (s State) String() string {
	if s < Init || s > Done {
		return "unknown"
	}
	return stateNames[s]
}
