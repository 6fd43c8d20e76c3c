package explain

import (
	"math"
	"sort"
)

// Region is a connected area of high attention. Coordinates are percentages
// of the image size.
type Region struct {
	ID             int     `json:"id"`
	XPercent       float64 `json:"x_percent"`
	YPercent       float64 `json:"y_percent"`
	WidthPercent   float64 `json:"width_percent"`
	HeightPercent  float64 `json:"height_percent"`
	CenterXPercent float64 `json:"center_x_percent"`
	CenterYPercent float64 `json:"center_y_percent"`
	Area           int     `json:"area"`
	Intensity      float64 `json:"intensity"`
}

// FindRegions thresholds m, extracts 8-connected components, drops those
// with area <= minArea and returns the limit most intense ones, numbered
// from 1.
func FindRegions(m *AttentionMap, threshold float64, minArea, limit int) []Region {
	w, h := m.Width, m.Height
	visited := make([]bool, w*h)
	regions := []Region{}
	var queue []int

	for start, v := range m.Values {
		if visited[start] || v <= threshold {
			continue
		}

		visited[start] = true
		queue = append(queue[:0], start)
		minX, minY, maxX, maxY := w, h, -1, -1
		var sumX, sumY, sumV float64
		area := 0

		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			px, py := p%w, p/w

			area++
			sumX += float64(px) + 0.5
			sumY += float64(py) + 0.5
			sumV += m.Values[p]
			minX, maxX = min(minX, px), max(maxX, px)
			minY, maxY = min(minY, py), max(maxY, py)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if !visited[n] && m.Values[n] > threshold {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}

		if area <= minArea {
			continue
		}
		regions = append(regions, Region{
			XPercent:       percent(float64(minX), w),
			YPercent:       percent(float64(minY), h),
			WidthPercent:   percent(float64(maxX-minX+1), w),
			HeightPercent:  percent(float64(maxY-minY+1), h),
			CenterXPercent: percent(sumX/float64(area), w),
			CenterYPercent: percent(sumY/float64(area), h),
			Area:           area,
			Intensity:      round(sumV/float64(area), 3),
		})
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Intensity > regions[j].Intensity
	})
	if limit >= 0 && len(regions) > limit {
		regions = regions[:limit]
	}
	for i := range regions {
		regions[i].ID = i + 1
	}
	return regions
}

func percent(v float64, total int) float64 {
	p := round(v/float64(total)*100, 1)
	return math.Max(0, math.Min(100, p))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
