package similarity

// Match is a contiguous block where a[A:A+Size] == b[B:B+Size].
type Match struct {
	A, B, Size int
}

// matcher finds matching blocks between two rune sequences using the
// Ratcliff/Obershelp longest-match recursion. No element of b is treated
// as junk.
type matcher struct {
	a, b []rune
	b2j  map[rune][]int

	// j2len[j+1] is the length of the match ending at a[i-1], b[j].
	j2len, newj2len  []int
	touched, scratch []int
}

func newMatcher(a, b []rune) *matcher {
	m := &matcher{
		a:        a,
		b:        b,
		b2j:      make(map[rune][]int),
		j2len:    make([]int, len(b)+1),
		newj2len: make([]int, len(b)+1),
	}
	for j, r := range b {
		m.b2j[r] = append(m.b2j[r], j)
	}
	return m
}

// longestMatch returns the longest block in a[alo:ahi], b[blo:bhi]. Ties go
// to the block that starts earliest in a, then earliest in b.
func (m *matcher) longestMatch(alo, ahi, blo, bhi int) Match {
	best := Match{A: alo, B: blo}
	for i := alo; i < ahi; i++ {
		m.scratch = m.scratch[:0]
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := m.j2len[j] + 1
			m.newj2len[j+1] = k
			m.scratch = append(m.scratch, j+1)
			if k > best.Size {
				best = Match{A: i - k + 1, B: j - k + 1, Size: k}
			}
		}
		for _, idx := range m.touched {
			m.j2len[idx] = 0
		}
		m.j2len, m.newj2len = m.newj2len, m.j2len
		m.touched, m.scratch = m.scratch, m.touched
	}
	for _, idx := range m.touched {
		m.j2len[idx] = 0
	}
	m.touched = m.touched[:0]
	return best
}

// matchingBlocks returns every block found by recursing on the regions left
// and right of each longest match.
func (m *matcher) matchingBlocks() []Match {
	type region struct{ alo, ahi, blo, bhi int }
	queue := []region{{0, len(m.a), 0, len(m.b)}}
	var blocks []Match
	for len(queue) > 0 {
		r := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x := m.longestMatch(r.alo, r.ahi, r.blo, r.bhi)
		if x.Size == 0 {
			continue
		}
		blocks = append(blocks, x)
		if r.alo < x.A && r.blo < x.B {
			queue = append(queue, region{r.alo, x.A, r.blo, x.B})
		}
		if x.A+x.Size < r.ahi && x.B+x.Size < r.bhi {
			queue = append(queue, region{x.A + x.Size, r.ahi, x.B + x.Size, r.bhi})
		}
	}
	return blocks
}

// Ratio returns 2*M/T for the rune sequences of a and b, where M is the
// total size of the matching blocks and T the combined length. Two empty
// inputs are identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	matched := 0
	for _, blk := range newMatcher(ra, rb).matchingBlocks() {
		matched += blk.Size
	}
	return 2.0 * float64(matched) / float64(total)
}
