package geocode

import (
	"fmt"
	"os"
	"sort"

	"github.com/dhconnelly/rtreego"
	"gopkg.in/yaml.v3"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// District is a named bounding box used when no provider answer is
// available.
type District struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	City   string  `yaml:"city"`
	MinLat float64 `yaml:"min_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLat float64 `yaml:"max_lat"`
	MaxLon float64 `yaml:"max_lon"`
}

func (d District) area() float64 {
	return (d.MaxLat - d.MinLat) * (d.MaxLon - d.MinLon)
}

func (d District) contains(loc models.Location) bool {
	return loc.Lat >= d.MinLat && loc.Lat <= d.MaxLat && loc.Lon >= d.MinLon && loc.Lon <= d.MaxLon
}

type zonesFile struct {
	Districts []District `yaml:"districts"`
}

// KinshasaDistricts are approximate boxes of the Kinshasa communes.
var KinshasaDistricts = []District{
	{ID: "gombe", Name: "Gombe", City: "Kinshasa", MinLat: -4.325, MinLon: 15.270, MaxLat: -4.290, MaxLon: 15.330},
	{ID: "kinshasa", Name: "Kinshasa", City: "Kinshasa", MinLat: -4.335, MinLon: 15.295, MaxLat: -4.315, MaxLon: 15.320},
	{ID: "barumbu", Name: "Barumbu", City: "Kinshasa", MinLat: -4.330, MinLon: 15.320, MaxLat: -4.305, MaxLon: 15.345},
	{ID: "lingwala", Name: "Lingwala", City: "Kinshasa", MinLat: -4.335, MinLon: 15.285, MaxLat: -4.318, MaxLon: 15.305},
	{ID: "kintambo", Name: "Kintambo", City: "Kinshasa", MinLat: -4.335, MinLon: 15.250, MaxLat: -4.305, MaxLon: 15.275},
	{ID: "ngaliema", Name: "Ngaliema", City: "Kinshasa", MinLat: -4.420, MinLon: 15.180, MaxLat: -4.300, MaxLon: 15.270},
	{ID: "bandalungwa", Name: "Bandalungwa", City: "Kinshasa", MinLat: -4.355, MinLon: 15.270, MaxLat: -4.335, MaxLon: 15.295},
	{ID: "kalamu", Name: "Kalamu", City: "Kinshasa", MinLat: -4.360, MinLon: 15.295, MaxLat: -4.330, MaxLon: 15.325},
	{ID: "limete", Name: "Limete", City: "Kinshasa", MinLat: -4.380, MinLon: 15.320, MaxLat: -4.320, MaxLon: 15.380},
	{ID: "lemba", Name: "Lemba", City: "Kinshasa", MinLat: -4.420, MinLon: 15.300, MaxLat: -4.370, MaxLon: 15.340},
	{ID: "matete", Name: "Matete", City: "Kinshasa", MinLat: -4.400, MinLon: 15.340, MaxLat: -4.370, MaxLon: 15.370},
	{ID: "ndjili", Name: "N'djili", City: "Kinshasa", MinLat: -4.410, MinLon: 15.370, MaxLat: -4.370, MaxLon: 15.420},
	{ID: "masina", Name: "Masina", City: "Kinshasa", MinLat: -4.400, MinLon: 15.380, MaxLat: -4.340, MaxLon: 15.450},
}

// LoadDistricts reads districts from a YAML file.
func LoadDistricts(path string) ([]District, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}
	var f zonesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse zones file: %w", err)
	}
	return f.Districts, nil
}

type zone struct {
	district District
	rect     rtreego.Rect
}

func (z *zone) Bounds() rtreego.Rect {
	return z.rect
}

// ZoneIndex answers which district contains a point.
type ZoneIndex struct {
	tree *rtreego.Rtree
	size int
}

func NewZoneIndex(districts []District) (*ZoneIndex, error) {
	objs := make([]rtreego.Spatial, 0, len(districts))
	for _, d := range districts {
		if d.ID == "" || d.MinLat >= d.MaxLat || d.MinLon >= d.MaxLon {
			return nil, fmt.Errorf("invalid district %q", d.ID)
		}
		rect, err := rtreego.NewRectFromPoints(rtreego.Point{d.MinLat, d.MinLon}, rtreego.Point{d.MaxLat, d.MaxLon})
		if err != nil {
			return nil, fmt.Errorf("district %s: %w", d.ID, err)
		}
		objs = append(objs, &zone{district: d, rect: rect})
	}
	return &ZoneIndex{tree: rtreego.NewTree(2, 25, 50, objs...), size: len(objs)}, nil
}

// Locate returns the smallest district containing loc. Ties go to the lowest
// ID so the answer never depends on insertion order.
func (z *ZoneIndex) Locate(loc models.Location) (District, bool) {
	if z == nil || z.size == 0 {
		return District{}, false
	}
	hits := z.tree.SearchIntersect(rtreego.Point{loc.Lat, loc.Lon}.ToRect(1e-9))

	var candidates []District
	for _, h := range hits {
		d := h.(*zone).district
		if d.contains(loc) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return District{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ai, aj := candidates[i].area(), candidates[j].area()
		if ai != aj {
			return ai < aj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}
