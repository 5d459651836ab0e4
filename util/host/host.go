package host

import (
	"os"
)

var Hostip string
var Hostname string

func init() {
	Hostname = os.Getenv("HOSTNAME")
	if Hostname == "" {
		Hostname = "unknown"
	}
	for _, env := range []string{"HOSTIP", "HOST_IP", "PODIP", "POD_IP", "LOCALIP", "LOCAL_IP"} {
		if Hostip = os.Getenv(env); Hostip != "" {
			break
		}
	}
	if Hostip == "" {
		Hostip = "unknown"
	}
}
