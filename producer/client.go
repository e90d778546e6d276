package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Transport connects a client to the renderers it serves.
type Transport interface {
	Sender

	// Announce broadcasts the publication or withdrawal of a scene to
	// every connected renderer.
	Announce(ctx context.Context, id types.SceneIdentity, published bool) error
}

// Client is a producing participant. It owns any number of scenes and the
// resource payloads they reference.
type Client struct {
	logger    log.Logger
	guid      types.Guid
	transport Transport
	resources *asset.Pool
	ledger    *resourceLedger

	mu     sync.Mutex
	scenes map[types.SceneId]*SceneProducer
}

// Create a client identified by guid.
func NewClient(guid types.Guid, transport Transport) *Client {
	return &Client{
		logger:    log.New("client"),
		guid:      guid,
		transport: transport,
		resources: asset.NewPool(),
		ledger:    newResourceLedger(),
		scenes:    make(map[types.SceneId]*SceneProducer),
	}
}

func (c *Client) Guid() types.Guid {
	return c.guid
}

// Resources returns the pool holding the payloads referenced by this
// client's scenes.
func (c *Client) Resources() *asset.Pool {
	return c.resources
}

// AddResource stores a resource payload and returns its identity.
func (c *Client) AddResource(res *asset.Resource) types.ResourceHash {
	c.resources.Put(res)
	return res.Hash
}

// CreateScene creates and publishes a new scene.
func (c *Client) CreateScene(ctx context.Context, id types.SceneId, opts Options) (*SceneProducer, error) {
	c.mu.Lock()
	if _, exists := c.scenes[id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSceneExists, id)
	}
	identity := types.SceneIdentity{Id: id, Owner: c.guid}
	p := NewSceneProducer(identity, c.transport, c.resources, opts)
	p.ledger = c.ledger
	c.scenes[id] = p
	c.mu.Unlock()

	c.logger.Infof("created %s (%s)", id, opts.Strategy)
	if err := c.transport.Announce(ctx, identity, true); err != nil {
		c.logger.Warningf("announcing %s: %v", id, err)
	}
	return p, nil
}

// DestroyScene unpublishes a scene and drops its subscribers.
func (c *Client) DestroyScene(ctx context.Context, id types.SceneId) error {
	c.mu.Lock()
	p, ok := c.scenes[id]
	delete(c.scenes, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, id)
	}

	p.removeAll()
	c.logger.Infof("destroyed %s", id)
	return c.transport.Announce(ctx, p.Identity(), false)
}

func (c *Client) Scene(id types.SceneId) (*SceneProducer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.scenes[id]
	return p, ok
}

// Scenes returns the ids of all scenes in ascending order.
func (c *Client) Scenes() []types.SceneId {
	c.mu.Lock()
	ids := maps.Keys(c.scenes)
	c.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Published returns the identities of all scenes, used to bring newly
// connected renderers up to date.
func (c *Client) Published() []types.SceneIdentity {
	ids := c.Scenes()
	out := make([]types.SceneIdentity, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.SceneIdentity{Id: id, Owner: c.guid})
	}
	return out
}

func (c *Client) HandleSubscribe(ctx context.Context, peer types.Guid, id types.SceneId) error {
	p, ok := c.Scene(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, id)
	}
	return p.AddSubscriber(ctx, peer)
}

func (c *Client) HandleUnsubscribe(peer types.Guid, id types.SceneId) error {
	p, ok := c.Scene(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, id)
	}
	p.RemoveSubscriber(peer)
	return nil
}

func (c *Client) HandleResync(ctx context.Context, peer types.Guid, id types.SceneId) error {
	p, ok := c.Scene(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, id)
	}
	return p.Resync(ctx, peer)
}

// PeerDisconnected drops a peer from every scene it subscribed to.
func (c *Client) PeerDisconnected(peer types.Guid) {
	for _, id := range c.Scenes() {
		if p, ok := c.Scene(id); ok {
			p.RemoveSubscriber(peer)
		}
	}
	c.ledger.forget(peer)
	c.logger.Infof("peer %s disconnected", peer)
}
