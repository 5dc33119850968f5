package ctrlconf

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Document is a decoded control-plane configuration. Only the keys the
// installer reads are interpreted; everything else passes through untouched.
type Document map[string]any

// DBParams merges the document's DB.Conn object over defaults. Values are
// rendered with their JSON text, so numeric ports stay numeric.
func (d Document) DBParams(defaults map[string]string) map[string]string {
	params := make(map[string]string, len(defaults))
	for k, v := range defaults {
		params[k] = v
	}
	db, _ := d["DB"].(map[string]any)
	conn, _ := db["Conn"].(map[string]any)
	for k, v := range conn {
		params[k] = fmt.Sprint(v)
	}
	return params
}

// ConnString renders params as space-separated key=value pairs in key order.
func ConnString(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", ErrNoDBConfig
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	return strings.Join(pairs, " "), nil
}

// ServicePort is a control-plane listener.
type ServicePort struct {
	Name string
	Port int
}

// ServicePorts returns the port of every top-level object carrying an
// "Addr" of the form host:port, ordered by key.
func (d Document) ServicePorts() ([]ServicePort, error) {
	var ports []ServicePort
	for k, v := range d {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		addr, ok := obj["Addr"].(string)
		if !ok || addr == "" {
			continue
		}
		_, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("%s.Addr %q: %w", k, addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%s.Addr %q: invalid port", k, addr)
		}
		ports = append(ports, ServicePort{Name: k, Port: port})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}
