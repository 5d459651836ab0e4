package version

import "strconv"

// bump on release
const (
	major  = 0
	minor  = 1
	patch  = 0
	status = "" //rc.1,beta.2...
)

// String returns the module version,the otel instruments carry it as the
// instrumentation version
func String() string {
	v := "v" + strconv.Itoa(major) + "." + strconv.Itoa(minor) + "." + strconv.Itoa(patch)
	if status != "" {
		v += "-" + status
	}
	return v
}
