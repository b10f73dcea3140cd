package client

import (
	"encoding/json"
	"fmt"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/freqclamp/pkg/config"
	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/daemon"
	"github.com/charlie0129/freqclamp/pkg/journal"
	"github.com/charlie0129/freqclamp/pkg/policy"
)

// Store sends one raw configuration token (on, off, min=N, max=N) and
// returns the resulting limits text.
func (c *Client) Store(token string) (string, error) {
	payload, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	ret, err := c.Put("/limits", string(payload))
	if err != nil {
		return "", err
	}
	return unquote(ret), nil
}

func (c *Client) SetEnabled(enabled bool) (string, error) {
	if enabled {
		return c.Store("on")
	}
	return c.Store("off")
}

func (c *Client) SetScreenoffMin(f policy.Frequency) (string, error) {
	return c.Store("min=" + strconv.FormatUint(uint64(f), 10))
}

func (c *Client) SetScreenoffMax(f policy.Frequency) (string, error) {
	return c.Store("max=" + strconv.FormatUint(uint64(f), 10))
}

// GetLimits returns the limits text of the configuration attribute.
func (c *Client) GetLimits() (string, error) {
	ret, err := c.Get("/limits")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get limits")
	}
	return ret, nil
}

func (c *Client) GetState() (*daemon.State, error) {
	ret, err := c.Get("/state")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get state")
	}
	st := &daemon.State{}
	if err := json.Unmarshal([]byte(ret), st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal state")
	}
	return st, nil
}

func (c *Client) GetPolicies() ([]cpufreq.Info, error) {
	ret, err := c.Get("/policies")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get cpufreq policies")
	}
	var infos []cpufreq.Info
	if err := json.Unmarshal([]byte(ret), &infos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal cpufreq policies")
	}
	return infos, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	conf := &config.RawFileConfig{}
	if err := json.Unmarshal([]byte(ret), conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return conf, nil
}

func (c *Client) GetHistory(limit int) ([]journal.Entry, error) {
	ret, err := c.Get(fmt.Sprintf("/history?limit=%d", limit))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get decision history")
	}
	var entries []journal.Entry
	if err := json.Unmarshal([]byte(ret), &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal decision history")
	}
	return entries, nil
}

func (c *Client) Resync() error {
	_, err := c.Post("/resync", "")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to resync cpufreq policies")
	}
	return nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get daemon version")
	}
	return unquote(ret), nil
}
