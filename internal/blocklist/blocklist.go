// Package blocklist checks sender domains against a DNS blocklist such as
// the Spamhaus DBL. A listed domain resolves; NXDOMAIN means clean, and
// any other lookup failure is treated as clean so a DNS outage never
// flags mail.
package blocklist

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"
)

// Resolver is the subset of net.Resolver the checker needs
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Checker queries a DNS blocklist zone for sender domains
type Checker struct {
	zone     string
	resolver Resolver
	logger   *zap.Logger
}

// NewChecker creates a checker for the given blocklist zone, e.g.
// "dbl.spamhaus.org". An empty zone disables all lookups.
func NewChecker(zone string, resolver Resolver, logger *zap.Logger) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{
		zone:     strings.TrimSuffix(strings.TrimSpace(zone), "."),
		resolver: resolver,
		logger:   logger,
	}
}

// IsListed reports whether the address's domain appears in the blocklist
func (c *Checker) IsListed(ctx context.Context, address string) bool {
	if c.zone == "" {
		return false
	}

	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[1] == "" {
		return false
	}
	domain := strings.ToLower(parts[1])

	query := domain + "." + c.zone
	addrs, err := c.resolver.LookupHost(ctx, query)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false
		}
		if c.logger != nil {
			c.logger.Warn("Blocklist lookup failed",
				zap.String("domain", domain), zap.Error(err))
		}
		return false
	}

	if len(addrs) > 0 && c.logger != nil {
		c.logger.Debug("Domain is blocklisted",
			zap.String("domain", domain), zap.String("address", address))
	}
	return len(addrs) > 0
}
