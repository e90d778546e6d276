package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/renderer"
	"github.com/olekukonko/tablewriter"
)

func newTable(buf *bytes.Buffer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

func displayFrameStats(stats renderer.FrameStats) {
	logger.Noticef("renderer statistics\n%s", formatFrameStats(stats))
}

func formatFrameStats(stats renderer.FrameStats) string {
	var buf bytes.Buffer

	table := newTable(&buf, "Scene", "Owner", "State", "Target", "Order", "Version", "Tag", "Nodes", "Slots", "Resources")
	totalResources := 0
	for _, stat := range stats.Scenes {
		resources := fmt.Sprintf("%d", stat.Resources)
		if stat.PendingResources != 0 {
			resources = fmt.Sprintf("%d (%d pending)", stat.Resources, stat.PendingResources)
		}
		sceneState := stat.State.String()
		if stat.Expired {
			sceneState += " (expired)"
		}
		table.Append([]string{
			fmt.Sprintf("%d", uint64(stat.Id)),
			stat.Owner.String(),
			sceneState,
			stat.Target.String(),
			fmt.Sprintf("%d", stat.RenderOrder),
			fmt.Sprintf("%d", stat.Version),
			fmt.Sprintf("%d", stat.Tag),
			fmt.Sprintf("%d", stat.Nodes),
			fmt.Sprintf("%d", stat.Slots),
			resources,
		})
		totalResources += stat.Resources
	}
	table.SetFooter([]string{"", "", "", "", "", "", "", "", "TOTAL", fmt.Sprintf("%d", totalResources)})
	table.Render()

	if len(stats.Links) != 0 {
		table = newTable(&buf, "Provider", "Consumer")
		for _, l := range stats.Links {
			table.Append([]string{l.Provider.String(), l.Consumer.String()})
		}
		table.Render()
	}

	table = newTable(&buf, "Loops", "Applied", "Rejected", "Deferred", "Resyncs", "Draws", "Loop time", "Budget", "Uploads deferred", "Upload budget")
	table.Append([]string{
		fmt.Sprintf("%d", stats.Loops),
		fmt.Sprintf("%d", stats.FlushesApplied),
		fmt.Sprintf("%d", stats.FlushesRejected),
		fmt.Sprintf("%d", stats.FlushesDeferred),
		fmt.Sprintf("%d", stats.ResyncRequests),
		fmt.Sprintf("%d", stats.Draws),
		stats.LoopTime.String(),
		stats.FrameBudget.String(),
		fmt.Sprintf("%d (%d queued)", stats.UploadsDeferred, stats.PendingUploads),
		stats.UploadBudget.String(),
	})
	table.Render()

	table = newTable(&buf, "Resident", "Pending", "Broken", "Resident bytes", "Uploads", "Releases", "Unused", "Reuses")
	table.Append([]string{
		fmt.Sprintf("%d", stats.Cache.Resident),
		fmt.Sprintf("%d", stats.Cache.Pending),
		fmt.Sprintf("%d", stats.Cache.Broken),
		fmt.Sprintf("%d", stats.Cache.ResidentBytes),
		fmt.Sprintf("%d", stats.Cache.Uploads),
		fmt.Sprintf("%d", stats.Cache.Releases),
		fmt.Sprintf("%d (%d bytes)", stats.Cache.Unused, stats.Cache.UnusedBytes),
		fmt.Sprintf("%d", stats.Cache.Reuses),
	})
	table.Render()

	return buf.String()
}

func displayProducerStats(client *producer.Client) {
	logger.Noticef("producer statistics\n%s", formatProducerStats(client))
}

func formatProducerStats(client *producer.Client) string {
	var buf bytes.Buffer
	table := newTable(&buf, "Scene", "Strategy", "Version", "Retained", "Subscribers")
	for _, id := range client.Scenes() {
		p, ok := client.Scene(id)
		if !ok {
			continue
		}
		table.Append([]string{
			fmt.Sprintf("%d", uint64(id)),
			p.Strategy().String(),
			fmt.Sprintf("%d", p.Version()),
			fmt.Sprintf("%d", p.Retained()),
			fmt.Sprintf("%d", len(p.Subscribers())),
		})
	}
	table.Render()
	return buf.String()
}
