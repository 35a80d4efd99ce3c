package ledger

import (
	"sort"
	"strings"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

// ExportProofBundle collects the events of runID with the digests of the actors
// that wrote them and the supplied manifest digests and validation reports.
// Actors come from Options.Registry; unregistered actors are omitted.
func (l *Ledger) ExportProofBundle(runID string, manifests []schemaledger.ManifestDigest, reports []schemaledger.ValidationReport) (schemaledger.ProofBundle, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return schemaledger.ProofBundle{}, coreerrors.Validation("run_id", "")
	}
	all := l.Events()
	verification := VerifyEvents(all)
	head := ""
	if len(all) > 0 {
		head = all[len(all)-1].EventHash
	}

	events := make([]Event, 0)
	actorIDs := map[string]struct{}{}
	for _, event := range all {
		if event.RunID != runID {
			continue
		}
		events = append(events, event)
		actorIDs[event.ActorID] = struct{}{}
	}

	plugins := make([]schemaledger.PluginDigest, 0)
	if l.opts.Registry != nil {
		for _, actor := range l.opts.Registry.Actors() {
			if _, used := actorIDs[actor.ID]; used {
				plugins = append(plugins, actor.digestPair())
			}
		}
	}

	manifestPairs := append([]schemaledger.ManifestDigest{}, manifests...)
	for _, pair := range manifestPairs {
		if !jcs.IsDigest(pair.ManifestDigest) {
			return schemaledger.ProofBundle{}, coreerrors.Validation("manifests.manifest_digest", "must be a 64-character lowercase hex sha256 digest")
		}
	}
	sort.SliceStable(manifestPairs, func(i, j int) bool { return manifestPairs[i].RunID < manifestPairs[j].RunID })
	reportList := append([]schemaledger.ValidationReport{}, reports...)
	sort.SliceStable(reportList, func(i, j int) bool { return reportList[i].ReportID < reportList[j].ReportID })

	bundle := schemaledger.ProofBundle{
		SchemaID:      BundleSchemaID,
		SchemaVersion: BundleSchemaVersion,
		RunID:         runID,
		ChainHead:     head,
		ChainValid:    verification.Valid,
		Events:        events,
		Plugins:       plugins,
		Manifests:     manifestPairs,
		Reports:       reportList,
	}
	digest, err := jcs.DigestValue(bundle)
	if err != nil {
		return schemaledger.ProofBundle{}, err
	}
	bundle.BundleDigest = digest
	return bundle, nil
}
