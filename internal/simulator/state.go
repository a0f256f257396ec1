package simulator

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
)

// DefaultState is a KWL EC 300 running on its rated stage in spring.
func DefaultState() map[string]string {
	return map[string]string{
		catalog.ArticleDescription:          "KWL EC 300 W R",
		catalog.MACAddress:                  "00:0A:5C:1E:7F:21",
		catalog.SerialNumber:                "SIM0000000000001",
		catalog.SoftwareVersion:             "2.27",
		catalog.PreheaterStatus:             "0",
		catalog.AfterheaterStatus:           "0",
		catalog.PartyMode:                   "0",
		catalog.PartyModeDuration:           "60",
		catalog.PartyModeFanStage:           "3",
		catalog.PartyModeRemainingTime:      "0",
		catalog.StandbyMode:                 "0",
		catalog.StandbyModeDuration:         "60",
		catalog.StandbyModeFanStage:         "0",
		catalog.StandbyModeRemainingTime:    "0",
		catalog.OperatingMode:               "1",
		catalog.FanStage:                    "2",
		catalog.PercentageFanSpeed:          "50",
		catalog.TemperatureOutsideAir:       "5.5",
		catalog.TemperatureSupplyAir:        "18.2",
		catalog.TemperatureOutgoingAir:      "8.1",
		catalog.TemperatureExtractAir:       "21.4",
		catalog.SupplyAirRPM:                "1450",
		catalog.ExtractAirRPM:               "1420",
		catalog.FilterChange:                "0",
		catalog.BypassExtractAirTemperature: "21",
		catalog.BypassOutdoorAirTemperature: "14",
		catalog.SupplyAirFanStage:           "2",
		catalog.ExtractAirFanStage:          "2",
		catalog.OperationHoursSupplyAirFan:  "1234560",
		catalog.OperationHoursExtractAirFan: "1234500",
		catalog.OperationHoursPreheater:     "3000",
		catalog.OperationHoursAfterheater:   "0",
		catalog.Errors:                      "0",
		catalog.Warnings:                    "0",
		catalog.Infos:                       "0",
		catalog.PercentagePreheater:         "0",
		catalog.PercentageAfterheater:       "0",
		catalog.BypassState:                 "0",
		catalog.BypassFromDay:               "1",
		catalog.BypassFromMonth:             "5",
		catalog.BypassToDay:                 "30",
		catalog.BypassToMonth:               "9",
		catalog.HumidityExtractAir:          "45",
	}
}

type stateFile struct {
	Values map[string]any `yaml:"values"`
}

// LoadState reads a YAML seed file and overlays it on DefaultState. The
// result is keyed by variable name.
//
//	values:
//	  fan_stage: 3
//	  temperature_outside_air: -2.5
func LoadState(path string) (map[string]string, error) {
	state := make(map[string]string)
	for k, v := range DefaultState() {
		variable, err := resolve(k)
		if err != nil {
			return nil, err
		}
		state[variable] = v
	}
	if path == "" {
		return state, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var f stateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	for k, v := range f.Values {
		variable, err := resolve(k)
		if err != nil {
			return nil, err
		}
		state[variable] = formatScalar(v)
	}
	return state, nil
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
