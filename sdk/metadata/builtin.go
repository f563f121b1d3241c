package metadata

// BuiltinVersions are the call tables shipped with the binary, keyed by
// runtime spec version.
var BuiltinVersions = map[uint32]string{
	1: specVersion1,
}

const specVersion1 = `
spec_version = 1

[[call]]
index = "0x0000"
section = "system"
method = "remark"
documentation = ["Make some on-chain remark."]

[[call]]
index = "0x0600"
section = "balances"
method = "transfer"
documentation = [
  "Transfer some liquid free balance to another account.",
  "It will decrease the total issuance of the system by the transfer fee.",
]

[[call]]
index = "0x0a00"
section = "democracy"
method = "propose"
documentation = ["Propose a sensitive action to be taken."]

[[call]]
index = "0x0a01"
section = "democracy"
method = "second"
documentation = ["Signals agreement with a particular proposal."]

[[call]]
index = "0x0a02"
section = "democracy"
method = "vote"
documentation = [
  "Vote in a referendum.",
  "If vote.is_aye(), the vote is to enact the proposal; otherwise it is a vote to keep the status quo.",
]

[[call]]
index = "0x0a03"
section = "democracy"
method = "cancel_referendum"
documentation = ["Remove a referendum."]

[[call]]
index = "0x0b00"
section = "council"
method = "set_members"
documentation = ["Set the collective's membership manually to new_members."]

[[call]]
index = "0x0c00"
section = "treasury"
method = "propose_spend"
documentation = [
  "Put forward a suggestion for spending.",
  "A deposit proportional to the value is reserved and slashed if the proposal is rejected.",
]
`
