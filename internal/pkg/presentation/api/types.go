package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/diwise/iot-fire-monitor/internal/pkg/application/monitor"
	"github.com/diwise/iot-fire-monitor/pkg/types"
)

type meta struct {
	TotalRecords uint64  `json:"totalRecords"`
	Offset       *uint64 `json:"offset,omitempty"`
	Limit        *uint64 `json:"limit,omitempty"`
	Count        uint64  `json:"count"`
}

type links struct {
	Self  *string `json:"self,omitempty"`
	First *string `json:"first,omitempty"`
	Prev  *string `json:"prev,omitempty"`
	Next  *string `json:"next,omitempty"`
	Last  *string `json:"last,omitempty"`
}

type ApiResponse struct {
	Meta  *meta  `json:"meta,omitempty"`
	Data  any    `json:"data"`
	Links *links `json:"links,omitempty"`
}

func (r ApiResponse) Byte() []byte {
	b, _ := json.Marshal(r)
	return b
}

func newCollectionResponse[T any](c types.Collection[T], u *url.URL) ApiResponse {
	data := c.Data
	if data == nil {
		data = []T{}
	}

	return ApiResponse{
		Meta: &meta{
			TotalRecords: c.TotalCount,
			Offset:       &c.Offset,
			Limit:        &c.Limit,
			Count:        c.Count,
		},
		Data:  data,
		Links: createLinks(u, c.Offset, c.Limit, c.TotalCount),
	}
}

func createLinks(u *url.URL, offset, limit, total uint64) *links {
	if limit == 0 {
		return nil
	}

	page := func(o uint64) *string {
		q := u.Query()
		q.Set("offset", strconv.FormatUint(o, 10))
		q.Set("limit", strconv.FormatUint(limit, 10))
		s := fmt.Sprintf("%s?%s", u.Path, q.Encode())
		return &s
	}

	l := &links{
		Self:  page(offset),
		First: page(0),
	}

	if offset > 0 {
		prev := uint64(0)
		if offset > limit {
			prev = offset - limit
		}
		l.Prev = page(prev)
	}

	if offset+limit < total {
		l.Next = page(offset + limit)
	}

	if total > 0 {
		l.Last = page(((total - 1) / limit) * limit)
	}

	return l
}

type sensorStatus struct {
	types.Sensor
	IsOnline      bool           `json:"isOnline"`
	PipelineState monitor.State  `json:"pipelineState"`
	Latest        *types.Reading `json:"latestReading,omitempty"`
}

const onlineWindow time.Duration = 5 * time.Minute

var timeNow = time.Now

type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
	Meta     *meta            `json:"meta,omitempty"`
	Links    *links           `json:"links,omitempty"`
}

type GeoJSONFeature struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Geometry   GeoJSONPoint   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type GeoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewFeatureCollectionWithAlerts maps alerts with coordinates onto point features.
// Alerts that only carry a free text address are left out.
func NewFeatureCollectionWithAlerts(alerts []types.Alert) *GeoJSONFeatureCollection {
	fc := &GeoJSONFeatureCollection{Type: "FeatureCollection", Features: []GeoJSONFeature{}}

	for _, a := range alerts {
		if a.Location == nil {
			continue
		}

		feature := GeoJSONFeature{
			ID:   a.AlertID,
			Type: "Feature",
			Geometry: GeoJSONPoint{
				Type:        "Point",
				Coordinates: [2]float64{a.Location.Longitude, a.Location.Latitude},
			},
			Properties: map[string]any{},
		}

		b, err := json.Marshal(a)
		if err == nil {
			json.Unmarshal(b, &feature.Properties)
		}
		delete(feature.Properties, "location")

		fc.Features = append(fc.Features, feature)
	}

	return fc
}
