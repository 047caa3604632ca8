package calib

// Temperature is the identity model: the DS18B20 already reports °C.
type Temperature struct{}

func (Temperature) Value(raw float32) float32 { return raw }
