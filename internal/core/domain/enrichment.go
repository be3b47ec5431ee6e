package domain

// DeviceInfo is the result of user-agent classification.
type DeviceInfo struct {
	DeviceType     DeviceType
	Browser        string
	BrowserVersion string
	OS             string
	IsBot          bool
}

// UTM holds campaign attribution parameters.
type UTM struct {
	Source   string
	Medium   string
	Campaign string
	Term     string
}

// GeoInfo is coarse geolocation for an IP address. The zero value means unknown.
type GeoInfo struct {
	Country   string
	Region    string
	City      string
	Latitude  *float64
	Longitude *float64
	ISP       string
}

// Empty reports whether the lookup produced nothing usable.
func (g GeoInfo) Empty() bool {
	return g.Country == "" && g.Region == "" && g.City == "" && g.Latitude == nil && g.Longitude == nil && g.ISP == ""
}
