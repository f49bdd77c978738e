package chain

// CeloRunnerABI is the subset of the game contract used by the client.
const CeloRunnerABI = `[
	{"type":"function","name":"registerPlayer","stateMutability":"nonpayable","inputs":[{"name":"username","type":"string"}],"outputs":[]},
	{"type":"function","name":"saveGameSession","stateMutability":"nonpayable","inputs":[{"name":"stage","type":"uint256"},{"name":"finalScore","type":"uint256"},{"name":"coinsCollected","type":"uint256"},{"name":"questionsCorrect","type":"uint256"},{"name":"stageCompleted","type":"bool"}],"outputs":[]},
	{"type":"function","name":"claimTokens","stateMutability":"nonpayable","inputs":[{"name":"stage","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimNFT","stateMutability":"nonpayable","inputs":[{"name":"stage","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"purchaseItem","stateMutability":"nonpayable","inputs":[{"name":"itemType","type":"string"},{"name":"cost","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"getPlayer","stateMutability":"view","inputs":[{"name":"playerAddress","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[
		{"name":"username","type":"string"},
		{"name":"isRegistered","type":"bool"},
		{"name":"currentStage","type":"uint256"},
		{"name":"totalScore","type":"uint256"},
		{"name":"inGameCoins","type":"uint256"},
		{"name":"questTokensEarned","type":"uint256"},
		{"name":"totalGamesPlayed","type":"uint256"},
		{"name":"registrationTime","type":"uint256"}]}]},
	{"type":"function","name":"getStageLeaderboard","stateMutability":"view","inputs":[{"name":"stage","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"player","type":"address"},
		{"name":"stage","type":"uint256"},
		{"name":"score","type":"uint256"},
		{"name":"coinsCollected","type":"uint256"},
		{"name":"stageCompleted","type":"bool"},
		{"name":"timestamp","type":"uint256"}]}]},
	{"type":"function","name":"getGeneralLeaderboard","stateMutability":"view","inputs":[{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"player","type":"address"},
		{"name":"stage","type":"uint256"},
		{"name":"score","type":"uint256"},
		{"name":"coinsCollected","type":"uint256"},
		{"name":"stageCompleted","type":"bool"},
		{"name":"timestamp","type":"uint256"}]}]},
	{"type":"function","name":"isStageCompleted","stateMutability":"view","inputs":[{"name":"player","type":"address"},{"name":"stage","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"areTokensClaimed","stateMutability":"view","inputs":[{"name":"player","type":"address"},{"name":"stage","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isNFTClaimed","stateMutability":"view","inputs":[{"name":"player","type":"address"},{"name":"stage","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getGameStats","stateMutability":"view","inputs":[],"outputs":[{"name":"totalPlayers","type":"uint256"},{"name":"totalGamesPlayed","type":"uint256"}]}
]`

// BadgeABI is the ERC-721 subset of the badge contract used by the client.
const BadgeABI = `[
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

// MarketplaceABI is the fixed-price marketplace contract.
const MarketplaceABI = `[
	{"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[
		{"name":"seller","type":"address"},
		{"name":"price","type":"uint256"},
		{"name":"isActive","type":"bool"}]}]},
	{"type":"function","name":"listItem","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"buyItem","stateMutability":"payable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancelListing","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`
