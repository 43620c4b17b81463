package service

// VotingResults is the tally of sealed votes.
type VotingResults struct {
	Results          map[string]int `json:"results"`
	TotalVotes       int            `json:"total_votes"`
	PendingVotes     int            `json:"pending_votes"`
	RegisteredVoters int            `json:"registered_voters"`
}

// VoteVerification compares the sealed vote count with the registry.
type VoteVerification struct {
	RegisteredVoters int  `json:"registered_voters"`
	CountedVotes     int  `json:"counted_votes"`
	ChainValid       bool `json:"chain_valid"`
	IsValid          bool `json:"is_valid"`
}

// Results tallies the chain. Votes still pending are reported separately and
// never counted.
func (vs *VotingService) Results() *VotingResults {
	tally := vs.ledger.Tally()

	total := 0
	for _, n := range tally {
		total += n
	}

	return &VotingResults{
		Results:          tally,
		TotalVotes:       total,
		PendingVotes:     vs.ledger.PendingCount(),
		RegisteredVoters: vs.registry.Count(),
	}
}

// VerifyVoteCount checks the chain and that it holds no more votes than there
// are registered voters.
func (vs *VotingService) VerifyVoteCount() *VoteVerification {
	valid, _ := vs.Validate()
	counted := vs.ledger.SealedVotes()
	registered := vs.registry.Count()

	return &VoteVerification{
		RegisteredVoters: registered,
		CountedVotes:     counted,
		ChainValid:       valid,
		IsValid:          valid && counted <= registered,
	}
}
