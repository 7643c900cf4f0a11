package soap

import "fmt"

// Service URNs and control paths for the UPnP services a zone player exposes.
const (
	AVTransportService      = "urn:schemas-upnp-org:service:AVTransport:1"
	RenderingControlService = "urn:schemas-upnp-org:service:RenderingControl:1"
	ContentDirectoryService = "urn:schemas-upnp-org:service:ContentDirectory:1"

	AVTransportControlPath      = "/MediaRenderer/AVTransport/Control"
	RenderingControlControlPath = "/MediaRenderer/RenderingControl/Control"
	ContentDirectoryControlPath = "/MediaServer/ContentDirectory/Control"
)

// EventPaths lists the eventing endpoints subscribed on every peer, in the
// order the subscription sweep walks them.
var EventPaths = []string{
	"/ZoneGroupTopology/Event",
	"/MediaRenderer/RenderingControl/Event",
	"/MediaRenderer/AVTransport/Event",
	"/MediaServer/ContentDirectory/Event",
	"/AlarmClock/Event",
	"/SystemProperties/Event",
	"/MusicServices/Event",
}

// Action is one well-known UPnP action: its service, control path and the
// default argument list sent when the caller supplies none.
type Action struct {
	Service     string
	ControlPath string
	Defaults    []Arg
}

var actions = map[string]Action{
	"AddURIToQueue":                  {AVTransportService, AVTransportControlPath, nil},
	"Browse":                         {ContentDirectoryService, ContentDirectoryControlPath, nil},
	"GetCrossfadeMode":               {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"GetMute":                        {RenderingControlService, RenderingControlControlPath, []Arg{{"InstanceID", "0"}, {"Channel", "Master"}}},
	"GetMediaInfo":                   {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"GetPositionInfo":                {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"GetRemainingSleepTimerDuration": {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"GetTransportInfo":               {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"GetVolume":                      {RenderingControlService, RenderingControlControlPath, []Arg{{"InstanceID", "0"}, {"Channel", "Master"}}},
	"Next":                           {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"Pause":                          {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"Play":                           {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}, {"Speed", "1"}}},
	"Previous":                       {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"RampToVolume":                   {RenderingControlService, RenderingControlControlPath, nil},
	"RemoveAllTracksFromQueue":       {AVTransportService, AVTransportControlPath, []Arg{{"InstanceID", "0"}}},
	"RemoveTrackFromQueue":           {AVTransportService, AVTransportControlPath, nil},
	"Seek":                           {AVTransportService, AVTransportControlPath, nil},
	"SetAVTransportURI":              {AVTransportService, AVTransportControlPath, nil},
	"SetCrossfadeMode":               {AVTransportService, AVTransportControlPath, nil},
	"SetMute":                        {RenderingControlService, RenderingControlControlPath, nil},
	"SetPlayMode":                    {AVTransportService, AVTransportControlPath, nil},
	"SetVolume":                      {RenderingControlService, RenderingControlControlPath, nil},
}

// NewActionRequest builds a Request for a well-known action. If args is nil
// the action's default argument list is used. Unknown actions are an error.
func NewActionRequest(ip, function string, args []Arg) (*Request, error) {
	action, ok := actions[function]
	if !ok {
		return nil, fmt.Errorf("unknown UPnP action: %s", function)
	}
	if args == nil {
		args = action.Defaults
	}
	return &Request{
		IP:           ip,
		Path:         action.ControlPath,
		Schema:       action.Service,
		FunctionName: function,
		Args:         args,
	}, nil
}
