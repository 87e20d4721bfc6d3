// Package federation keeps track of the recording peers on the home network.
// A Registry reconciles the discovered device list into one DeviceProxy per
// peer, routes every protocol event to the proxy that issued the matching
// request, fans searches out to all peers and aggregates their recordings
// and schedules. Requests carry a correlation handle assigned by the
// registry, so routing an event is a map lookup rather than a scan.
package federation
