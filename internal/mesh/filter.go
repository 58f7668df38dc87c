package mesh

import "math"

// smooth replaces every valid cell with the mean of the valid cells in its
// 3x3 neighbourhood. Invalid cells stay invalid. With wrap set the last
// column duplicates the first and neighbours are taken across the seam.
func smooth(f *field, wrap bool) {
	rows, cols := f.rows(), f.cols()
	unique := cols
	if wrap {
		unique = cols - 1
	}
	out := make([]float64, len(f.values))

	for r := 0; r < rows; r++ {
		for c := 0; c < unique; c++ {
			v := f.at(r, c)
			if math.IsNaN(v) {
				out[r*cols+c] = v
				continue
			}
			var sum float64
			var n int
			for dr := -1; dr <= 1; dr++ {
				rr := r + dr
				if rr < 0 || rr >= rows {
					continue
				}
				for dc := -1; dc <= 1; dc++ {
					cc := c + dc
					if wrap {
						cc = (cc + unique) % unique
					} else if cc < 0 || cc >= cols {
						continue
					}
					if nv := f.at(rr, cc); !math.IsNaN(nv) {
						sum += nv
						n++
					}
				}
			}
			out[r*cols+c] = sum / float64(n)
		}
		if wrap {
			out[r*cols+unique] = out[r*cols]
		}
	}
	f.values = out
}

// blockAverage reduces the field by averaging step x step blocks. Axis
// coordinates are averaged too. A block is valid when at least one of its
// samples is.
func blockAverage(f *field, step int) {
	if step <= 1 {
		return
	}
	rows, cols := f.rows(), f.cols()
	nr := (rows + step - 1) / step
	nc := (cols + step - 1) / step

	lat := make([]float64, nr)
	for i := range lat {
		lat[i] = mean(f.lat[i*step : min(rows, (i+1)*step)])
	}
	lon := make([]float64, nc)
	for j := range lon {
		lon[j] = mean(f.lon[j*step : min(cols, (j+1)*step)])
	}

	values := make([]float64, nr*nc)
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			var sum float64
			var n int
			for r := i * step; r < min(rows, (i+1)*step); r++ {
				for c := j * step; c < min(cols, (j+1)*step); c++ {
					if v := f.at(r, c); !math.IsNaN(v) {
						sum += v
						n++
					}
				}
			}
			if n == 0 {
				values[i*nc+j] = math.NaN()
			} else {
				values[i*nc+j] = sum / float64(n)
			}
		}
	}

	f.lat, f.lon, f.values = lat, lon, values
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
