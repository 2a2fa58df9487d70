package service

import (
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// Unit is the addressable service every worker process runs.
// It is a value: each worker builds its own copy.
type Unit struct {
	Name  string `json:"name"`
	Topic string `json:"topic"`
	Host  string `json:"host"`
}

// Build returns the unit bound to topic on host. The name defaults to the topic.
func Build(host, topic string) Unit {
	return Unit{
		Name:  topic,
		Topic: topic,
		Host:  host,
	}
}

// WithName returns a copy of u with an explicit service name
func (u Unit) WithName(name string) Unit {
	if name != "" {
		u.Name = name
	}
	return u
}

// HostAddress is the per-host subject, "<topic>.<host>"
func (u Unit) HostAddress() string {
	return u.Topic + "." + u.Host
}

func (u Unit) String() string {
	return u.Name + "@" + u.HostAddress()
}

func (u Unit) Validate() error {
	if u.Topic == "" {
		return errors.NewValidationError("service topic is required", nil)
	}
	if u.Host == "" {
		return errors.NewValidationError("service host is required", nil)
	}
	if strings.ContainsAny(u.Topic, " \t*>") {
		return errors.NewValidationError("service topic contains invalid characters", nil).WithContext("topic", u.Topic)
	}
	if strings.ContainsAny(u.Host, " \t*>.") {
		return errors.NewValidationError("service host contains invalid characters", nil).WithContext("host", u.Host)
	}
	return nil
}
