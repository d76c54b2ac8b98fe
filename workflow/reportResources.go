package workflow

import "github.com/mmdatafocus/retail_dashboard/models/reports"

// ReportResources adapts registry entries into refresh resources.
func ReportResources(in []reports.Resource) []Resource {
	out := make([]Resource, 0, len(in))
	for _, r := range in {
		out = append(out, Resource{Section: r.Section, Name: r.Name, Fetch: r.Fetch})
	}
	return out
}
