package cmd

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

// Slots allocated by every animated scene.
const (
	providerSlot types.DataSlotId = 1
	consumerSlot types.DataSlotId = 2
)

// sceneAnimator owns a set of scenes and keeps mutating them.
type sceneAnimator struct {
	client *producer.Client
	scenes []*producer.SceneProducer
	frame  uint64

	// Content of each frame expires this long after it was flushed; zero
	// disables expiration.
	expiration time.Duration
}

// Generate a RGBA gradient texture.
func gradient(seed int) []byte {
	const size = 64
	out := make([]byte, 0, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out = append(out, byte(x*4), byte(y*4), byte(seed*32), 0xff)
		}
	}
	return out
}

// Load the textures at the given paths or urls; generate count textures
// when no paths are given.
func loadTextures(paths []string, count int) ([]*asset.Resource, error) {
	var textures []*asset.Resource
	for _, path := range paths {
		res, err := asset.Load(path, asset.KindTexture)
		if err != nil {
			return nil, err
		}
		textures = append(textures, res)
	}
	if len(textures) != 0 {
		return textures, nil
	}

	for i := 0; i < count; i++ {
		res, err := asset.NewResource(asset.KindTexture, fmt.Sprintf("gradient-%d", i), gradient(i)).Compress()
		if err != nil {
			return nil, err
		}
		textures = append(textures, res)
	}
	return textures, nil
}

// Create count scenes, each holding a textured node pair and a provider and
// consumer vec4 slot.
func newSceneAnimator(ctx context.Context, client *producer.Client, count int, textures []*asset.Resource, opts producer.Options) (*sceneAnimator, error) {
	anim := &sceneAnimator{client: client}
	for index := 0; index < count; index++ {
		p, err := client.CreateScene(ctx, types.SceneId(index+1), opts)
		if err != nil {
			return nil, err
		}

		tex := textures[index%len(textures)]
		client.AddResource(tex)

		p.AllocateNode(1)
		p.SetProperty(1, "transform", scene.Mat4Value(types.Ident4()))
		p.AllocateNode(2)
		p.AddChild(1, 2)
		p.SetResource(2, tex.Hash)
		p.AllocateDataSlot(providerSlot, scene.SlotProvider, scene.SlotDataVec4)
		p.AllocateDataSlot(consumerSlot, scene.SlotConsumer, scene.SlotDataVec4)
		if _, err = p.Flush(ctx, 1); err != nil {
			logger.Warningf("initial flush of %s: %v", p.Identity().Id, err)
		}
		anim.scenes = append(anim.scenes, p)
	}
	return anim, nil
}

// Advance the animation by one frame and flush every scene.
func (anim *sceneAnimator) step(ctx context.Context) {
	anim.frame++
	for index, p := range anim.scenes {
		angle := float64(anim.frame)*0.05 + float64(index)
		sin, cos := float32(math.Sin(angle)), float32(math.Cos(angle))

		p.SetProperty(1, "transform", scene.Mat4Value(types.Translate4(types.XYZW(cos, sin, 0, 1))))
		p.SetDataSlotValue(providerSlot, scene.Vec4Value(types.XYZW(sin, cos, float32(anim.frame), 1)))
		if anim.expiration > 0 {
			p.SetExpiration(time.Now().Add(anim.expiration))
		}
		if _, err := p.Flush(ctx, types.VersionTag(anim.frame+1)); err != nil {
			logger.Warningf("flushing %s: %v", p.Identity().Id, err)
		}
	}
}
