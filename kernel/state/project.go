package state

// ProjectionFlags records, per lattice, whether any cell needed
// clamping during projection onto K, plus
// whether the budget was clamped.
type ProjectionFlags struct {
	RhoProjected bool
	CProjected   bool
	BProjected   bool
}

// Project clamps s in place onto the feasible set K: ρ cells to
// [0, RhoMax], C cells to >= 0, and b to >= 0. Returns flags recording
// which fields were actually clamped, for the receipt's `projected`
// bookkeeping.
func Project(s *State, p *Parameters) ProjectionFlags {
	var flags ProjectionFlags
	for i := range s.Rho {
		for j := range s.Rho[i] {
			v := s.Rho[i][j]
			switch {
			case v < 0:
				s.Rho[i][j] = 0
				flags.RhoProjected = true
			case v > p.RhoMax:
				s.Rho[i][j] = p.RhoMax
				flags.RhoProjected = true
			}
		}
	}
	for i := range s.C {
		for j := range s.C[i] {
			if s.C[i][j] < 0 {
				s.C[i][j] = 0
				flags.CProjected = true
			}
		}
	}
	if s.B < 0 {
		s.B = 0
		flags.BProjected = true
	}
	return flags
}
