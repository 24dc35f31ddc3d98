package fivetran

import (
	"context"
	"net/http"
)

// CreateDestination creates a destination inside req.GroupID. The platform
// runs setup tests when req.RunSetupTests is set.
func (c *Client) CreateDestination(ctx context.Context, req NewDestinationRequest) (*Destination, error) {
	const op = "CreateDestination"
	if err := c.validateRequest(op, req); err != nil {
		return nil, err
	}
	if req.Region != nil {
		if err := req.Region.Validate(); err != nil {
			return nil, newValidationError(op, err)
		}
	}
	if req.Config.ConnectionType != nil {
		if err := req.Config.ConnectionType.Validate(); err != nil {
			return nil, newValidationError(op, err)
		}
	}
	c.logger.Info().
		Str("group_id", req.GroupID).
		Str("service", req.Service).
		Str("host", req.Config.Host).
		Int("port", req.Config.Port).
		Msg("Creating destination")
	return call[Destination](ctx, c, op, http.MethodPost, "/v1/destinations", nil, req)
}

// GetDestination fetches a destination by id.
func (c *Client) GetDestination(ctx context.Context, id string) (*Destination, error) {
	const op = "GetDestination"
	if err := c.requireID(op, "destination id", id); err != nil {
		return nil, err
	}
	return call[Destination](ctx, c, op, http.MethodGet, "/v1/destinations/"+id, nil, nil)
}

// ListDestinations returns every destination visible to the account.
func (c *Client) ListDestinations(ctx context.Context) ([]Destination, error) {
	return listAll[Destination](ctx, c, "ListDestinations", "/v1/destinations")
}

// DeleteDestination deletes a destination.
func (c *Client) DeleteDestination(ctx context.Context, id string) error {
	const op = "DeleteDestination"
	if err := c.requireID(op, "destination id", id); err != nil {
		return err
	}
	c.logger.Info().Str("destination_id", id).Msg("Deleting destination")
	return callEmpty(ctx, c, op, http.MethodDelete, "/v1/destinations/"+id, nil)
}
