package screening

// assemble builds the results in the order of requests. fingerprints[i] is
// the fingerprint of requests[i] and every one of them must be resolved.
func assemble(requests []WithdrawalRequest, fingerprints []Fingerprint, resolved map[Fingerprint]resolution) ([]Result, error) {
	if len(requests) != len(fingerprints) {
		return nil, internalFault("%d requests but %d fingerprints", len(requests), len(fingerprints))
	}

	results := make([]Result, len(requests))
	for i, req := range requests {
		res, ok := resolved[fingerprints[i]]
		if !ok {
			return nil, internalFault("no decision for request %d", req.RequestID)
		}
		results[i] = Result{
			Request:     req,
			Fingerprint: fingerprints[i],
			Decision:    res.decision,
			Status:      res.decision.Verdict.Status(),
			Source:      res.source,
		}
	}
	return results, nil
}
