package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/scenerelay/renderer"
	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/types"
)

var errUsage = errors.New("shell: invalid command")

const shellHelp = `commands:
  state <scene> <Unavailable|Available|Ready|Rendered>
  order <scene> <order>
  notify <scene> <on|off>
  master <scene> <master scene>
  unmaster <scene>
  link <provider scene>:<slot> <consumer scene>:<slot>
  unlink <consumer scene>:<slot>
  unpublish <scene>
  budget <duration>
  stats
  quit`

// Read commands line by line and enqueue them to the renderer until the
// input is exhausted or quit is entered.
func runShell(in io.Reader, r *renderer.Renderer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			logger.Notice(shellHelp)
			continue
		case "stats":
			displayFrameStats(r.Stats())
			continue
		}

		cmd, err := parseCommand(fields)
		if err != nil {
			logger.Warningf("%v", err)
			continue
		}
		r.Queue().Enqueue(cmd)
	}
	return scanner.Err()
}

// Parse a tokenized shell line into a renderer command.
func parseCommand(fields []string) (renderer.Command, error) {
	args := fields[1:]
	expect := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s expects %d arguments; got %d", errUsage, fields[0], n, len(args))
		}
		return nil
	}

	var (
		cmd renderer.Command
		err error
	)
	switch fields[0] {
	case "state":
		if err = expect(2); err != nil {
			break
		}
		var id types.SceneId
		var target state.State
		if id, err = parseSceneId(args[0]); err != nil {
			break
		}
		if target, err = parseState(args[1]); err != nil {
			break
		}
		cmd = renderer.SetSceneState(id, target)
	case "order":
		if err = expect(2); err != nil {
			break
		}
		var id types.SceneId
		var order int
		if id, err = parseSceneId(args[0]); err != nil {
			break
		}
		if order, err = strconv.Atoi(args[1]); err != nil {
			err = fmt.Errorf("%w: invalid render order %q", errUsage, args[1])
			break
		}
		cmd = renderer.SetRenderOrder(id, order)
	case "notify":
		if err = expect(2); err != nil {
			break
		}
		var id types.SceneId
		if id, err = parseSceneId(args[0]); err != nil {
			break
		}
		switch args[1] {
		case "on":
			cmd = renderer.SetFlushNotifications(id, true)
		case "off":
			cmd = renderer.SetFlushNotifications(id, false)
		default:
			err = fmt.Errorf("%w: expected on or off; got %q", errUsage, args[1])
		}
	case "master":
		if err = expect(2); err != nil {
			break
		}
		var id, master types.SceneId
		if id, err = parseSceneId(args[0]); err != nil {
			break
		}
		if master, err = parseSceneId(args[1]); err != nil {
			break
		}
		cmd = renderer.SetMaster(id, master)
	case "unmaster", "unpublish":
		if err = expect(1); err != nil {
			break
		}
		var id types.SceneId
		if id, err = parseSceneId(args[0]); err != nil {
			break
		}
		if fields[0] == "unmaster" {
			cmd = renderer.ClearMaster(id)
		} else {
			cmd = renderer.Unpublish(id)
		}
	case "link":
		if err = expect(2); err != nil {
			break
		}
		var provider, consumer link.SlotRef
		if provider, err = parseSlotRef(args[0]); err != nil {
			break
		}
		if consumer, err = parseSlotRef(args[1]); err != nil {
			break
		}
		cmd = renderer.LinkData(provider, consumer)
	case "unlink":
		if err = expect(1); err != nil {
			break
		}
		var consumer link.SlotRef
		if consumer, err = parseSlotRef(args[0]); err != nil {
			break
		}
		cmd = renderer.UnlinkData(consumer)
	case "budget":
		if err = expect(1); err != nil {
			break
		}
		var budget time.Duration
		if budget, err = time.ParseDuration(args[0]); err != nil || budget < 0 {
			err = fmt.Errorf("%w: invalid budget %q", errUsage, args[0])
			break
		}
		cmd = renderer.SetFrameBudget(budget)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, fields[0])
	}
	return cmd, err
}

func parseSceneId(s string) (types.SceneId, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid scene id %q", errUsage, s)
	}
	return types.SceneId(id), nil
}

// Scene states are matched case-insensitively.
func parseState(s string) (state.State, error) {
	if s == "" {
		return state.Unavailable, fmt.Errorf("%w: missing state", errUsage)
	}
	target, err := state.ParseState(strings.ToUpper(s[:1]) + strings.ToLower(s[1:]))
	if err != nil {
		return state.Unavailable, fmt.Errorf("%w: %v", errUsage, err)
	}
	return target, nil
}

// Parse a slot reference of the form scene:slot.
func parseSlotRef(s string) (link.SlotRef, error) {
	sceneStr, slotStr, found := strings.Cut(s, ":")
	if !found {
		return link.SlotRef{}, fmt.Errorf("%w: expected scene:slot; got %q", errUsage, s)
	}
	id, err := parseSceneId(sceneStr)
	if err != nil {
		return link.SlotRef{}, err
	}
	slot, err := strconv.ParseUint(slotStr, 10, 32)
	if err != nil {
		return link.SlotRef{}, fmt.Errorf("%w: invalid slot id %q", errUsage, slotStr)
	}
	return link.SlotRef{Scene: id, Slot: types.DataSlotId(slot)}, nil
}
