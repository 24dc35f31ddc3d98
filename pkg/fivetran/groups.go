package fivetran

import (
	"context"
	"net/http"
)

// CreateGroup creates a group with the given name.
func (c *Client) CreateGroup(ctx context.Context, name string) (*Group, error) {
	const op = "CreateGroup"
	req := NewGroupRequest{Name: name}
	if err := c.validateRequest(op, req); err != nil {
		return nil, err
	}
	c.logger.Info().Str("name", name).Msg("Creating group")
	return call[Group](ctx, c, op, http.MethodPost, "/v1/groups", nil, req)
}

// GetGroup fetches a group by id.
func (c *Client) GetGroup(ctx context.Context, id string) (*Group, error) {
	const op = "GetGroup"
	if err := c.requireID(op, "group id", id); err != nil {
		return nil, err
	}
	return call[Group](ctx, c, op, http.MethodGet, "/v1/groups/"+id, nil, nil)
}

// ListGroups returns every group visible to the account.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	return listAll[Group](ctx, c, "ListGroups", "/v1/groups")
}

// DeleteGroup deletes a group. The group must not own a destination.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	const op = "DeleteGroup"
	if err := c.requireID(op, "group id", id); err != nil {
		return err
	}
	c.logger.Info().Str("group_id", id).Msg("Deleting group")
	return callEmpty(ctx, c, op, http.MethodDelete, "/v1/groups/"+id, nil)
}

// ListGroupConnectors returns the connectors owned by a group.
func (c *Client) ListGroupConnectors(ctx context.Context, groupID string) ([]Connector, error) {
	const op = "ListGroupConnectors"
	if err := c.requireID(op, "group id", groupID); err != nil {
		return nil, err
	}
	return listAll[Connector](ctx, c, op, "/v1/groups/"+groupID+"/connections")
}
