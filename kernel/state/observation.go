package state

// Observation is the environment's per-tick reading handed to the
// proposer. The kernel treats its contents as opaque integer data;
// Readings carries whatever domain-specific values the
// environment chooses to expose (positions, distances, counters).
// Nothing in an Observation feeds a hash.
type Observation struct {
	RewardQ   int64
	HazardHit bool
	Terminal  bool
	Readings  map[string]int64
}

// Clone returns a deep copy of o.
func (o *Observation) Clone() *Observation {
	out := &Observation{
		RewardQ:   o.RewardQ,
		HazardHit: o.HazardHit,
		Terminal:  o.Terminal,
	}
	if o.Readings != nil {
		out.Readings = make(map[string]int64, len(o.Readings))
		for k, v := range o.Readings {
			out.Readings[k] = v
		}
	}
	return out
}
