package storage

import (
	"context"
	"strconv"
	"strings"

	"github.com/diwise/iot-fire-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
)

const DefaultLimit int = 50

type ConditionFunc func(*Condition) *Condition

// Condition is a backend neutral query filter. The pgx storage renders it as
// named arguments and a WHERE clause, the gorm database applies the exported fields.
type Condition struct {
	AlertID  string
	SensorID string
	Status   []types.AlertStatus
	Origin   types.AlertOrigin
	Active   *bool
	HasPort  bool

	sortBy    string
	sortOrder string

	offset *int
	limit  *int
}

func NewCondition(conditions ...ConditionFunc) *Condition {
	c := &Condition{}
	for _, f := range conditions {
		f(c)
	}
	return c
}

func (c Condition) NamedArgs() pgx.NamedArgs {
	args := pgx.NamedArgs{}

	if c.AlertID != "" {
		args["alert_id"] = c.AlertID
	}
	if c.SensorID != "" {
		args["sensor_id"] = c.SensorID
	}
	if len(c.Status) > 0 {
		args["status"] = c.statuses()
	}
	if c.Origin != "" {
		args["origin"] = string(c.Origin)
	}
	if c.Active != nil {
		args["active"] = *c.Active
	}

	return args
}

func (c Condition) Where() string {
	where := []string{}

	if c.AlertID != "" {
		where = append(where, "alert_id = @alert_id")
	}
	if c.SensorID != "" {
		where = append(where, "sensor_id = @sensor_id")
	}
	if len(c.Status) > 0 {
		where = append(where, "status = ANY(@status)")
	}
	if c.Origin != "" {
		where = append(where, "origin = @origin")
	}
	if c.Active != nil {
		where = append(where, "active = @active")
	}
	if c.HasPort {
		where = append(where, "port IS NOT NULL AND port <> ''")
	}

	if len(where) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(where, " AND ")
}

func (c Condition) statuses() []string {
	s := make([]string, 0, len(c.Status))
	for _, st := range c.Status {
		s = append(s, string(st))
	}
	return s
}

func (c Condition) SortBy() string {
	return c.sortBy
}

func (c Condition) SortOrder() string {
	if c.sortOrder == "" {
		return "ASC"
	}
	return c.sortOrder
}

func (c Condition) Offset() int {
	if c.offset == nil {
		return 0
	}
	return *c.offset
}

func (c Condition) Limit() int {
	if c.limit == nil {
		return DefaultLimit
	}
	return *c.limit
}

func (c Condition) HasOffset() bool {
	return c.offset != nil
}

func (c Condition) HasLimit() bool {
	return c.limit != nil
}

func WithAlertID(alertID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.AlertID = alertID
		return c
	}
}

func WithSensorID(sensorID string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.SensorID = sensorID
		return c
	}
}

func WithStatus(status ...types.AlertStatus) ConditionFunc {
	return func(c *Condition) *Condition {
		for _, s := range status {
			if s.Valid() {
				c.Status = append(c.Status, s)
			}
		}
		return c
	}
}

func WithOrigin(origin types.AlertOrigin) ConditionFunc {
	return func(c *Condition) *Condition {
		if origin.Valid() {
			c.Origin = origin
		}
		return c
	}
}

func WithActive(active bool) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Active = &active
		return c
	}
}

func WithPort() ConditionFunc {
	return func(c *Condition) *Condition {
		c.HasPort = true
		return c
	}
}

func WithSortBy(sortBy string) ConditionFunc {
	return func(c *Condition) *Condition {
		switch strings.ToLower(sortBy) {
		case "created_at", "createdat":
			c.sortBy = "created_at"
		case "observed_at", "observedat":
			c.sortBy = "observed_at"
		case "name":
			c.sortBy = "name"
		case "sensor_id", "sensorid":
			c.sortBy = "sensor_id"
		case "severity":
			c.sortBy = "severity"
		}
		return c
	}
}

func WithSortDesc(desc bool) ConditionFunc {
	return func(c *Condition) *Condition {
		if desc {
			c.sortOrder = "DESC"
		} else {
			c.sortOrder = "ASC"
		}
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		if offset >= 0 {
			c.offset = &offset
		}
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		if limit > 0 {
			c.limit = &limit
		}
		return c
	}
}

// ParseConditions maps query string parameters onto conditions. Unknown keys are
// ignored and unparsable numbers are logged and skipped.
func ParseConditions(ctx context.Context, params map[string][]string) []ConditionFunc {
	log := logging.GetLoggerFromContext(ctx)

	conditions := make([]ConditionFunc, 0)

	for k, v := range params {
		if len(v) == 0 || v[0] == "" {
			continue
		}

		switch strings.ToLower(k) {
		case "alert_id", "alertid":
			conditions = append(conditions, WithAlertID(v[0]))
		case "sensor_id", "sensorid":
			conditions = append(conditions, WithSensorID(v[0]))
		case "status":
			for _, s := range v {
				for _, part := range strings.Split(s, ",") {
					conditions = append(conditions, WithStatus(types.AlertStatus(strings.TrimSpace(part))))
				}
			}
		case "origin":
			conditions = append(conditions, WithOrigin(types.AlertOrigin(v[0])))
		case "active":
			active, err := strconv.ParseBool(v[0])
			if err != nil {
				log.Debug().Str("active", v[0]).Msg("ignoring invalid active parameter")
				continue
			}
			conditions = append(conditions, WithActive(active))
		case "sortby":
			conditions = append(conditions, WithSortBy(v[0]))
		case "sortorder":
			conditions = append(conditions, WithSortDesc(strings.EqualFold(v[0], "desc")))
		case "offset":
			offset, err := strconv.Atoi(v[0])
			if err != nil {
				log.Debug().Str("offset", v[0]).Msg("ignoring invalid offset parameter")
				continue
			}
			conditions = append(conditions, WithOffset(offset))
		case "limit":
			limit, err := strconv.Atoi(v[0])
			if err != nil {
				log.Debug().Str("limit", v[0]).Msg("ignoring invalid limit parameter")
				continue
			}
			conditions = append(conditions, WithLimit(limit))
		}
	}

	return conditions
}
