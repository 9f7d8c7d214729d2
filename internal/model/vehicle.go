package model

// Vehicle is the record kept by the vehicle service.
type Vehicle struct {
	ID           uint64 `json:"id"`
	LicensePlate string `json:"license_plate"`
	Accessible   bool   `json:"accessible"`
	Type         string `json:"type"`
}
