package fivetran

import (
	"context"
	"net/http"
)

// ReloadSchema asks the platform to rediscover the source schema and
// returns the discovered tree.
func (c *Client) ReloadSchema(ctx context.Context, connectorID string) (*SchemaConfig, error) {
	const op = "ReloadSchema"
	if err := c.requireID(op, "connector id", connectorID); err != nil {
		return nil, err
	}
	c.logger.Info().Str("connector_id", connectorID).Msg("Reloading schema")
	return call[SchemaConfig](ctx, c, op, http.MethodPost,
		"/v1/connections/"+connectorID+"/schemas/reload", nil, struct{}{})
}

// GetSchema returns the current schema tree without rediscovery.
func (c *Client) GetSchema(ctx context.Context, connectorID string) (*SchemaConfig, error) {
	const op = "GetSchema"
	if err := c.requireID(op, "connector id", connectorID); err != nil {
		return nil, err
	}
	return call[SchemaConfig](ctx, c, op, http.MethodGet,
		"/v1/connections/"+connectorID+"/schemas", nil, nil)
}

// UpdateSchema submits a schema write tree and returns the resulting config.
func (c *Client) UpdateSchema(ctx context.Context, connectorID string, req *SchemaUpdateRequest) (*SchemaConfig, error) {
	const op = "UpdateSchema"
	if err := c.requireID(op, "connector id", connectorID); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, newValidationError(op, errNilRequest)
	}
	if err := c.validateRequest(op, req); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("connector_id", connectorID).
		Str("schema_change_handling", string(req.SchemaChangeHandling)).
		Int("schemas", len(req.Schemas)).
		Msg("Updating schema")
	return call[SchemaConfig](ctx, c, op, http.MethodPatch,
		"/v1/connections/"+connectorID+"/schemas", nil, req)
}
