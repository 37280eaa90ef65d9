package job

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint addresses a space (bucket) in the online object store.
type Endpoint struct {
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	StoreID string `json:"store_id" yaml:"store_id"`
	SpaceID string `json:"space_id" yaml:"space_id"`
}

// Validate checks that all coordinates are present.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("endpoint host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d is out of range", e.Port)
	}
	if strings.TrimSpace(e.StoreID) == "" {
		return errors.New("endpoint store_id is required")
	}
	if strings.TrimSpace(e.SpaceID) == "" {
		return errors.New("endpoint space_id is required")
	}
	return nil
}

// URL returns the base URL of the endpoint for the given scheme.
func (e Endpoint) URL(scheme string) string {
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint as host:port/store/space for logs and messages.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%s/%s", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.StoreID, e.SpaceID)
}
