package admin

// LookupType is a named reference value (identification type, role type).
type LookupType struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type LookupInput struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

type IdentificationType = LookupType

type RoleType = LookupType

type Driver struct {
	ID                   int64   `json:"id"`
	FullName             string  `json:"fullName"`
	Gender               string  `json:"gender"`
	ContactNumber        *string `json:"contactNumber"`
	RoleType             string  `json:"roleType"`
	IdentificationType   string  `json:"identificationType"`
	IdentificationNumber string  `json:"identificationNumber"`
	Active               bool    `json:"active"`
}

type DriverInput struct {
	ID                   *int64  `json:"id"`
	FullName             string  `json:"fullName"`
	Gender               string  `json:"gender"`
	ContactNumber        *string `json:"contactNumber"`
	RoleType             string  `json:"roleType"`
	IdentificationType   string  `json:"identificationType"`
	IdentificationNumber string  `json:"identificationNumber"`
}

type Vehicle struct {
	ID          int64  `json:"id"`
	DriverID    *int64 `json:"driverId"`
	PlateNumber string `json:"plateNumber"`
	Type        string `json:"type"`
	Model       string `json:"model"`
	Brand       string `json:"brand"`
	Active      bool   `json:"active"`
}

type VehicleInput struct {
	ID          *int64 `json:"id"`
	DriverID    *int64 `json:"driverId"`
	PlateNumber string `json:"plateNumber"`
	Type        string `json:"type"`
	Model       string `json:"model"`
	Brand       string `json:"brand"`
}

type VehicleFilter struct {
	DriverID *int64
	Limit    int
	Offset   int
}

type User struct {
	UserID   int64  `json:"userId"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

type UserInput struct {
	UserID   *int64 `json:"userId"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIKey is the dashboard view of an OCR credential; the secret is never exposed.
type APIKey struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
	MaskedKey   string `json:"maskedKey"`
	UsageCount  int64  `json:"usageCount"`
	Active      bool   `json:"active"`
}

type APIKeyInput struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
	SecretKey   string `json:"secretKey"`
	Active      *bool  `json:"active"`
}
