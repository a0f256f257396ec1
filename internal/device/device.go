package device

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var ErrNoAirflow = errors.New("model carries no airflow figure")

// Info identifies the ventilation unit behind the bridge.
type Info struct {
	ID              string
	MAC             string
	SerialNumber    string
	Model           string
	SoftwareVersion string
	// MaxAirflow is the nominal airflow in m³/h, zero when unknown.
	MaxAirflow float64
}

func New(id, mac, serial, model, version string) Info {
	info := Info{
		ID:              id,
		MAC:             strings.ToLower(strings.TrimSpace(mac)),
		SerialNumber:    strings.TrimSpace(serial),
		Model:           strings.TrimSpace(model),
		SoftwareVersion: strings.TrimSpace(version),
	}
	if airflow, err := ParseMaxAirflow(info.Model); err == nil {
		info.MaxAirflow = airflow
	}
	return info
}

// Name is the display name of the unit.
func (i Info) Name() string {
	if i.Model == "" {
		return "Helios"
	}
	return "Helios " + i.Model
}

var digits = regexp.MustCompile(`\d+`)

// ParseMaxAirflow extracts the nominal airflow from an article description
// such as "KWL EC 300 W R".
func ParseMaxAirflow(model string) (float64, error) {
	m := digits.FindString(model)
	if m == "" {
		return 0, ErrNoAirflow
	}
	n, err := strconv.Atoi(m)
	if err != nil || n == 0 {
		return 0, ErrNoAirflow
	}
	return float64(n), nil
}
