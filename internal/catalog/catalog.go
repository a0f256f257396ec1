package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// Variable names of the device map.
const (
	ArticleDescription          = "article_description"
	MACAddress                  = "mac_address"
	PreheaterStatus             = "preheater_status"
	AfterheaterStatus           = "afterheater_status"
	PartyMode                   = "party_mode"
	PartyModeDuration           = "party_mode_duration"
	PartyModeFanStage           = "party_mode_fan_stage"
	PartyModeRemainingTime      = "party_mode_remaining_time"
	StandbyMode                 = "standby_mode"
	StandbyModeDuration         = "standby_mode_duration"
	StandbyModeFanStage         = "standby_mode_fan_stage"
	StandbyModeRemainingTime    = "standby_mode_remaining_time"
	OperatingMode               = "operating_mode"
	FanStage                    = "fan_stage"
	PercentageFanSpeed          = "percentage_fan_speed"
	TemperatureOutsideAir       = "temperature_outside_air"
	TemperatureSupplyAir        = "temperature_supply_air"
	TemperatureOutgoingAir      = "temperature_outgoing_air"
	TemperatureExtractAir       = "temperature_extract_air"
	SerialNumber                = "serial_number"
	SupplyAirRPM                = "supply_air_rpm"
	ExtractAirRPM               = "extract_air_rpm"
	FilterChange                = "filter_change"
	SupplyAirFanStage           = "supply_air_fan_stage"
	ExtractAirFanStage          = "extract_air_fan_stage"
	SoftwareVersion             = "software_version"
	OperationHoursSupplyAirFan  = "operation_hours_supply_air_fan"
	OperationHoursExtractAirFan = "operation_hours_extract_air_fan"
	OperationHoursPreheater     = "operation_hours_preheater"
	OperationHoursAfterheater   = "operation_hours_afterheater"
	Errors                      = "errors"
	Warnings                    = "warnings"
	Infos                       = "infos"
	InfoFilterChangeFlag        = "info_filter_change"
	PercentagePreheater         = "percentage_preheater"
	PercentageAfterheater       = "percentage_afterheater"
	BypassState                 = "bypass_state"
	HumidityExtractAir          = "humidity_extract_air"
	BypassFromDay               = "bypass_from_day"
	BypassFromMonth             = "bypass_from_month"
	BypassToDay                 = "bypass_to_day"
	BypassToMonth               = "bypass_to_month"
	BypassExtractAirTemperature = "bypass_extract_air_temperature"
	BypassOutdoorAirTemperature = "bypass_outdoor_air_temperature"
)

var deviceMap = []Descriptor{
	{Name: ArticleDescription, Address: 0, Size: 31, Kind: KindText},
	{Name: MACAddress, Address: 2, Size: 18, Kind: KindText},
	{Name: PreheaterStatus, Address: 24, Size: 1, Kind: KindBool},
	{Name: PartyModeDuration, Address: 91, Size: 3, Kind: KindInt, Access: ReadWrite, Unit: "min", Domain: Between(5, 180)},
	{Name: PartyModeFanStage, Address: 92, Size: 1, Kind: KindStage, Access: ReadWrite, Domain: Between(1, 4)},
	{Name: PartyModeRemainingTime, Address: 93, Size: 3, Kind: KindInt, Unit: "min"},
	{Name: PartyMode, Address: 94, Size: 1, Kind: KindBool, Access: ReadWrite},
	{Name: StandbyModeDuration, Address: 96, Size: 3, Kind: KindInt, Access: ReadWrite, Unit: "min", Domain: Between(5, 180)},
	{Name: StandbyModeFanStage, Address: 97, Size: 1, Kind: KindStage, Access: ReadWrite, Domain: Between(0, 4)},
	{Name: StandbyModeRemainingTime, Address: 98, Size: 3, Kind: KindInt, Unit: "min"},
	{Name: StandbyMode, Address: 99, Size: 1, Kind: KindBool, Access: ReadWrite},
	{Name: OperatingMode, Address: 101, Size: 1, Kind: KindMode, Access: ReadWrite},
	{Name: FanStage, Address: 102, Size: 1, Kind: KindStage, Access: ReadWrite, Domain: Between(0, 4)},
	{Name: PercentageFanSpeed, Address: 103, Size: 3, Kind: KindInt, Unit: "%", Domain: Between(0, 100)},
	{Name: TemperatureOutsideAir, Address: 104, Size: 7, Kind: KindFloat, Unit: "°C"},
	{Name: TemperatureSupplyAir, Address: 105, Size: 7, Kind: KindFloat, Unit: "°C"},
	{Name: TemperatureOutgoingAir, Address: 106, Size: 7, Kind: KindFloat, Unit: "°C"},
	{Name: TemperatureExtractAir, Address: 107, Size: 7, Kind: KindFloat, Unit: "°C"},
	{Name: AfterheaterStatus, Address: 201, Size: 1, Kind: KindBool},
	{Name: SerialNumber, Address: 303, Size: 16, Kind: KindText},
	{Name: SupplyAirRPM, Address: 348, Size: 4, Kind: KindInt, Unit: "rpm"},
	{Name: ExtractAirRPM, Address: 349, Size: 4, Kind: KindInt, Unit: "rpm"},
	{Name: FilterChange, Address: 1031, Size: 1, Kind: KindBool},
	{Name: BypassExtractAirTemperature, Address: 1035, Size: 2, Kind: KindInt, Access: ReadWrite, Unit: "°C", Domain: Between(0, 30)},
	{Name: BypassOutdoorAirTemperature, Address: 1036, Size: 2, Kind: KindInt, Access: ReadWrite, Unit: "°C", Domain: Between(0, 30)},
	{Name: SupplyAirFanStage, Address: 1050, Size: 1, Kind: KindStage, Domain: Between(0, 4)},
	{Name: ExtractAirFanStage, Address: 1051, Size: 1, Kind: KindStage, Domain: Between(0, 4)},
	{Name: SoftwareVersion, Address: 1101, Size: 5, Kind: KindText},
	{Name: OperationHoursSupplyAirFan, Address: 1103, Size: 10, Kind: KindScaled, Unit: "h", Scale: 60},
	{Name: OperationHoursExtractAirFan, Address: 1104, Size: 10, Kind: KindScaled, Unit: "h", Scale: 60},
	{Name: OperationHoursPreheater, Address: 1105, Size: 10, Kind: KindScaled, Unit: "h", Scale: 60},
	{Name: OperationHoursAfterheater, Address: 1106, Size: 10, Kind: KindScaled, Unit: "h", Scale: 60},
	{Name: Errors, Address: 1123, Size: 10, Kind: KindFlags, Labels: errorLabels},
	{Name: Warnings, Address: 1124, Size: 10, Kind: KindFlags, Labels: warningLabels},
	{Name: Infos, Address: 1125, Size: 10, Kind: KindFlags, Labels: infoLabels},
	{Name: InfoFilterChangeFlag, Address: 1125, Size: 10, Kind: KindFlag, Mask: InfoFilterChange},
	{Name: PercentagePreheater, Address: 2117, Size: 3, Kind: KindInt, Unit: "%", Domain: Between(0, 100)},
	{Name: PercentageAfterheater, Address: 2118, Size: 3, Kind: KindInt, Unit: "%", Domain: Between(0, 100)},
	{Name: BypassState, Address: 2119, Size: 1, Kind: KindBool},
	{Name: BypassFromDay, Address: 2120, Size: 2, Kind: KindInt, Access: ReadWrite, Domain: Between(1, 31)},
	{Name: BypassFromMonth, Address: 2121, Size: 2, Kind: KindInt, Access: ReadWrite, Domain: Between(1, 12)},
	{Name: BypassToDay, Address: 2128, Size: 2, Kind: KindInt, Access: ReadWrite, Domain: Between(1, 31)},
	{Name: BypassToMonth, Address: 2129, Size: 2, Kind: KindInt, Access: ReadWrite, Domain: Between(1, 12)},
	{Name: HumidityExtractAir, Address: 2136, Size: 3, Kind: KindInt, Unit: "%", Domain: Between(0, 100)},
}

// Catalog is the immutable set of variables known for a device.
type Catalog struct {
	byName map[string]Descriptor
	order  []Descriptor
}

// New validates the descriptors and builds a catalog ordered by address.
func New(ds ...Descriptor) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Descriptor, len(ds))}
	sizes := make(map[uint16]int)
	for _, d := range ds {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidCatalog, d.Name)
		}
		if size, ok := sizes[d.Address]; ok && size != d.Size {
			return nil, fmt.Errorf("%w: %s shared with size %d, %q has %d",
				ErrInvalidCatalog, d.Variable(), size, d.Name, d.Size)
		}
		sizes[d.Address] = d.Size
		c.byName[d.Name] = d
		c.order = append(c.order, d)
	}
	sort.SliceStable(c.order, func(i, j int) bool {
		return c.order[i].Address < c.order[j].Address
	})
	return c, nil
}

func validate(d Descriptor) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidCatalog, d.Name, fmt.Sprintf(format, args...))
	}
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: descriptor %s has no name", ErrInvalidCatalog, d.Variable())
	case d.Size <= 0:
		return fail("size must be positive")
	case !d.Kind.Valid():
		return fail("unknown kind %d", d.Kind)
	case d.Domain.Set && d.Domain.Min > d.Domain.Max:
		return fail("empty domain [%d, %d]", d.Domain.Min, d.Domain.Max)
	}

	switch d.Kind {
	case KindScaled:
		if d.Scale <= 0 {
			return fail("scaled variable needs a positive scale")
		}
	case KindStage:
		if !d.Domain.Set {
			return fail("stage variable needs a domain")
		}
		for v := d.Domain.Min; v <= d.Domain.Max; v++ {
			if !ventilation.Stage(v).Valid() {
				return fail("stage value %d has no fan stage", v)
			}
		}
	case KindFlags:
		if !d.Labels.valid() {
			return fail("flag labels must map single bits")
		}
	case KindFlag:
		if d.Mask == 0 {
			return fail("flag needs a mask")
		}
	case KindBool, KindMode:
		if d.Size != 1 {
			return fail("%s variable must have size 1", d.Kind)
		}
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the EasyControls variable map. It panics if the built-in
// table is inconsistent.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := New(deviceMap...)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

func (c *Catalog) Lookup(name string) (Descriptor, error) {
	d, ok := c.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return d, nil
}

// Descriptors returns every descriptor ordered by address.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.order))
	copy(out, c.order)
	return out
}

// Writable returns the read-write descriptors ordered by address.
func (c *Catalog) Writable() []Descriptor {
	var out []Descriptor
	for _, d := range c.order {
		if d.Writable() {
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}
