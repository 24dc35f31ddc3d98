package fivetran

import (
	"context"
	"net/http"
)

// CreateConnector creates a source connector inside req.GroupID.
func (c *Client) CreateConnector(ctx context.Context, req NewConnectorRequest) (*Connector, error) {
	const op = "CreateConnector"
	if err := c.validateRequest(op, req); err != nil {
		return nil, err
	}
	if err := req.validateEnums(); err != nil {
		return nil, newValidationError(op, err)
	}
	c.logger.Info().
		Str("group_id", req.GroupID).
		Str("service", req.Service).
		Str("host", req.Config.Host).
		Int("port", req.Config.Port).
		Msg("Creating connector")
	return call[Connector](ctx, c, op, http.MethodPost, "/v1/connections", nil, req)
}

// GetConnector fetches a connector, including its status, by id.
func (c *Client) GetConnector(ctx context.Context, id string) (*Connector, error) {
	const op = "GetConnector"
	if err := c.requireID(op, "connector id", id); err != nil {
		return nil, err
	}
	return call[Connector](ctx, c, op, http.MethodGet, "/v1/connections/"+id, nil, nil)
}

// ListConnectors returns every connector visible to the account.
func (c *Client) ListConnectors(ctx context.Context) ([]Connector, error) {
	return listAll[Connector](ctx, c, "ListConnectors", "/v1/connections")
}

// UpdateConnector patches a connector and returns its new state.
func (c *Client) UpdateConnector(ctx context.Context, id string, req UpdateConnectorRequest) (*Connector, error) {
	const op = "UpdateConnector"
	if err := c.requireID(op, "connector id", id); err != nil {
		return nil, err
	}
	return call[Connector](ctx, c, op, http.MethodPatch, "/v1/connections/"+id, nil, req)
}

// StartHistoricalSync unpauses a connector and requests a full historical
// re-sync on its next run.
func (c *Client) StartHistoricalSync(ctx context.Context, id string) (*Connector, error) {
	c.logger.Info().Str("connector_id", id).Msg("Starting historical sync")
	return c.UpdateConnector(ctx, id, UpdateConnectorRequest{
		IsHistoricalSync: Bool(true),
		Paused:           Bool(false),
	})
}

// DeleteConnector deletes a connector.
func (c *Client) DeleteConnector(ctx context.Context, id string) error {
	const op = "DeleteConnector"
	if err := c.requireID(op, "connector id", id); err != nil {
		return err
	}
	c.logger.Info().Str("connector_id", id).Msg("Deleting connector")
	return callEmpty(ctx, c, op, http.MethodDelete, "/v1/connections/"+id, nil)
}

func (r NewConnectorRequest) validateEnums() error {
	if r.SyncFrequency != nil {
		if err := r.SyncFrequency.Validate(); err != nil {
			return err
		}
	}
	if r.Config.UpdateMethod != nil {
		if err := r.Config.UpdateMethod.Validate(); err != nil {
			return err
		}
	}
	if r.Config.ConnectionType != nil {
		if err := r.Config.ConnectionType.Validate(); err != nil {
			return err
		}
	}
	return nil
}
