package main

import (
	"errors"

	"github.com/unclebandit/leadreach-backend/internal/config"
)

var errNoBroker = errors.New("worker needs AMQP_URL; without a broker the server runs the jobs itself")

// requireBroker rejects configurations where the worker would consume from
// a private in-process queue nobody publishes to.
func requireBroker(cfg *config.Config) error {
	if cfg.AMQPURL == "" {
		return errNoBroker
	}
	return nil
}
