package pimapi

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
)

// Client calls the PIM service of a running daemon.
type Client struct {
	list     *connect.Client[ListInstancesRequest, ListInstancesResponse]
	get      *connect.Client[GetInstanceRequest, GetInstanceResponse]
	config   *connect.Client[ShowRunningConfigRequest, ShowRunningConfigResponse]
	setRange *connect.Client[SetSSMRangeRequest, SetSSMRangeResponse]
	classify *connect.Client[ClassifyGroupRequest, ClassifyGroupResponse]
}

// NewClient creates a client for the daemon at baseURL
// (e.g., "http://localhost:50052").
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		list: connect.NewClient[ListInstancesRequest, ListInstancesResponse](
			httpClient, baseURL+ListInstancesProcedure, opts...),
		get: connect.NewClient[GetInstanceRequest, GetInstanceResponse](
			httpClient, baseURL+GetInstanceProcedure, opts...),
		config: connect.NewClient[ShowRunningConfigRequest, ShowRunningConfigResponse](
			httpClient, baseURL+ShowRunningConfigProcedure, opts...),
		setRange: connect.NewClient[SetSSMRangeRequest, SetSSMRangeResponse](
			httpClient, baseURL+SetSSMRangeProcedure, opts...),
		classify: connect.NewClient[ClassifyGroupRequest, ClassifyGroupResponse](
			httpClient, baseURL+ClassifyGroupProcedure, opts...),
	}
}

// ListInstances returns every instance in registry order.
func (c *Client) ListInstances(ctx context.Context) ([]InstanceSummary, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&ListInstancesRequest{}))
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return resp.Msg.Instances, nil
}

// GetInstance returns the named instance.
func (c *Client) GetInstance(ctx context.Context, name string) (*InstanceDetail, error) {
	resp, err := c.get.CallUnary(ctx, connect.NewRequest(&GetInstanceRequest{Name: name}))
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", name, err)
	}
	return &resp.Msg.Instance, nil
}

// ShowRunningConfig returns the configuration dump.
func (c *Client) ShowRunningConfig(ctx context.Context) (string, error) {
	resp, err := c.config.CallUnary(ctx, connect.NewRequest(&ShowRunningConfigRequest{}))
	if err != nil {
		return "", fmt.Errorf("show running config: %w", err)
	}
	return resp.Msg.Config, nil
}

// SetSSMRange sets the SSM range prefix list of vrf. An empty prefixList
// restores the well-known range.
func (c *Client) SetSSMRange(ctx context.Context, vrf, prefixList string) (bool, error) {
	resp, err := c.setRange.CallUnary(ctx, connect.NewRequest(&SetSSMRangeRequest{
		VRF:        vrf,
		PrefixList: prefixList,
	}))
	if err != nil {
		return false, fmt.Errorf("set ssm range of %s: %w", vrf, err)
	}
	return resp.Msg.Reevaluated, nil
}

// ClassifyGroup classifies group within vrf.
func (c *Client) ClassifyGroup(ctx context.Context, vrf, group string) (*ClassifyGroupResponse, error) {
	resp, err := c.classify.CallUnary(ctx, connect.NewRequest(&ClassifyGroupRequest{
		VRF:   vrf,
		Group: group,
	}))
	if err != nil {
		return nil, fmt.Errorf("classify %s in %s: %w", group, vrf, err)
	}
	return resp.Msg, nil
}
