package parking

import (
	"sort"
	"strings"
)

// Vehicle describes the physical envelope of an arriving vehicle in
// meters. The registration is carried separately by the request.
type Vehicle struct {
	Type   string
	Length float64
	Width  float64
	Height float64
}

func NewVehicle(vehicleType string, length, width, height float64) Vehicle {
	return Vehicle{
		Type:   vehicleType,
		Length: length,
		Width:  width,
		Height: height,
	}
}

func (v Vehicle) Validate() error {
	if v.Length <= 0 || v.Width <= 0 || v.Height <= 0 {
		return invalidf("vehicle dimensions must be positive")
	}
	return nil
}

var vehicleClasses = map[string]Vehicle{
	"compact": NewVehicle("compact", 3.6, 1.6, 1.4),
	"sedan":   NewVehicle("sedan", 4.5, 1.8, 1.5),
	"suv":     NewVehicle("suv", 4.8, 2.0, 1.8),
	"truck":   NewVehicle("truck", 5.5, 2.2, 2.2),
}

// VehicleForClass returns the preset descriptor for a named class.
func VehicleForClass(class string) (Vehicle, error) {
	v, ok := vehicleClasses[strings.ToLower(strings.TrimSpace(class))]
	if !ok {
		return Vehicle{}, invalidf("unknown vehicle class %q", class)
	}
	return v, nil
}

func VehicleClasses() []string {
	names := make([]string, 0, len(vehicleClasses))
	for name := range vehicleClasses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
