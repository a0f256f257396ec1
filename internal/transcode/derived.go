package transcode

import "math"

// MinEfficiencySpread is the smallest extract/outside temperature difference,
// in kelvin, for which heat recovery efficiency is meaningful.
const MinEfficiencySpread = 0.5

// Airflow estimates the delivered airflow in m³/h from the nominal maximum
// airflow of the unit and the current fan speed percentage.
func Airflow(maxAirflow float64, percentage int64) float64 {
	return maxAirflow * float64(percentage) / 100
}

// HeatRecoveryEfficiency returns the temperature ratio of the heat exchanger
// in percent, rounded to two decimals. It reports false when the extract and
// outside temperatures are too close for the ratio to mean anything.
func HeatRecoveryEfficiency(outside, supply, extract float64) (float64, bool) {
	spread := extract - outside
	if math.Abs(spread) <= MinEfficiencySpread {
		return 0, false
	}
	return math.Abs(round2((supply - outside) / spread * 100)), true
}
