package state

import "github.com/cohkernel/gmk/kernel/kerrors"

// V computes the Lyapunov functional V(s;P):
//
//	V = w_∇θ · Σ|Δθ|² + w_C · Σ C + w_budget · Φ(b)
//
// where Φ(b) = BMax - b clipped at zero. All sums are integer Q18.
func V(s *State, p *Parameters) (int64, error) {
	gradSum := gradThetaSumSquares(s.Th)
	gradTerm, err := scaledMul(p.WGradTheta, gradSum)
	if err != nil {
		return 0, err
	}

	cSum := sumGrid(s.C)
	cTerm, err := scaledMul(p.WC, cSum)
	if err != nil {
		return 0, err
	}

	phi := p.BMax - s.B
	if phi < 0 {
		phi = 0
	}
	budgetTerm, err := scaledMul(p.WBudget, phi)
	if err != nil {
		return 0, err
	}

	sum, err := q18AddAll(gradTerm, cTerm, budgetTerm)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// gradThetaSumSquares computes Σ|Δθ|² over the discrete gradient of θ:
// the sum of squared forward differences in both lattice directions.
func gradThetaSumSquares(th Grid) int64 {
	var sum int64
	rows, cols := th.Rows(), th.Cols()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if j+1 < cols {
				d := th[i][j+1] - th[i][j]
				sum += d * d
			}
			if i+1 < rows {
				d := th[i+1][j] - th[i][j]
				sum += d * d
			}
		}
	}
	return sum
}

func sumGrid(g Grid) int64 {
	var sum int64
	for _, row := range g {
		for _, v := range row {
			sum += v
		}
	}
	return sum
}

// scaledMul multiplies a Q18-scaled weight by a plain integer count,
// producing a Q18 result directly (no additional scale division is
// needed since only one operand carries the 2^18 factor).
func scaledMul(weightQ18, count int64) (int64, error) {
	product := weightQ18 * count
	if weightQ18 != 0 && product/weightQ18 != count {
		return 0, kerrors.WrapOverflow("state.scaledMul")
	}
	return product, nil
}

func q18AddAll(vals ...int64) (int64, error) {
	var sum int64
	for _, v := range vals {
		next := sum + v
		if (v > 0 && next < sum) || (v < 0 && next > sum) {
			return 0, kerrors.WrapOverflow("state.q18AddAll")
		}
		sum = next
	}
	return sum, nil
}

// DiffuseC computes the next-tick cost potential C' via integer
// discrete diffusion with coefficient DC and decay LambdaC:
//
//	C'[i][j] = floor(C[i][j]*(Scale-LambdaC)/Scale) + floor(DC*lap(C)[i][j]/Scale)
//
// where lap is the discrete 4-neighbor Laplacian (sum of neighbor
// deltas), clamped to K afterward by the caller.
func DiffuseC(c Grid, p *Parameters) Grid {
	const scale = 1 << 18
	rows, cols := c.Rows(), c.Cols()
	out := newGrid(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lap := int64(0)
			center := c[i][j]
			if i > 0 {
				lap += c[i-1][j] - center
			}
			if i+1 < rows {
				lap += c[i+1][j] - center
			}
			if j > 0 {
				lap += c[i][j-1] - center
			}
			if j+1 < cols {
				lap += c[i][j+1] - center
			}
			decayed := floorDiv(center*(scale-p.LambdaC), scale)
			diffused := floorDiv(p.DC*lap, scale)
			out[i][j] = decayed + diffused
		}
	}
	return out
}

// floorDiv is Euclidean-style floor division for possibly-negative
// numerators, used only for the (non-hashed-directly, but
// feasibility-clamped) diffusion intermediate.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Work computes the Q18 budget charge for applying action a to state s
// under parameters p: a fixed per-tick cost plus a cost proportional to
// the action's Manhattan magnitude. Debits round UP, never
// undercharging.
func Work(s *State, a *Action, p *Parameters) (int64, error) {
	var magnitude int64
	for i := range a.DRho {
		for j := range a.DRho[i] {
			magnitude += absInt64(a.DRho[i][j]) + absInt64(a.DTh[i][j])
		}
	}
	moveCost, err := scaledMul(p.MoveCostQ, magnitude)
	if err != nil {
		return 0, err
	}
	total, err := q18AddAll(p.TickCostQ, moveCost)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
