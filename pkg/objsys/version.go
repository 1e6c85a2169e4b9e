package objsys

import "fmt"

// Version is a (major, minor) version pair used for classes, plugins and
// the runtime ABI.
type Version struct {
	Major int `yaml:"major" mapstructure:"major"`
	Minor int `yaml:"minor" mapstructure:"minor"`
}

// ABIVersion is the binary interface version of this runtime. Plugins report
// the ABI they were built against.
var ABIVersion = Version{Major: 1, Minor: 0}

// String returns "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether something built against v can run on a
// runtime at version rt: same major, and a minor no newer than the runtime.
func (v Version) Compatible(rt Version) bool {
	return v.Major == rt.Major && v.Minor <= rt.Minor
}

// Less orders versions.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}
