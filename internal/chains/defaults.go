package chains

import "github.com/ggonzalez94/route-runner/internal/model"

var ether = model.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

// Bootstrap chain table used until (or instead of) the planning service list.
var defaultChains = []model.ChainMetadata{
	{ChainID: 1, Name: "Ethereum", Currency: ether, RPCs: []string{"https://eth.llamarpc.com"}, Explorers: []string{"https://etherscan.io"}},
	{ChainID: 10, Name: "Optimism", Currency: ether, RPCs: []string{"https://mainnet.optimism.io"}, Explorers: []string{"https://optimistic.etherscan.io"}},
	{ChainID: 56, Name: "BNB Smart Chain", Currency: model.NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18}, RPCs: []string{"https://bsc-dataseed.binance.org"}, Explorers: []string{"https://bscscan.com"}},
	{ChainID: 100, Name: "Gnosis", Currency: model.NativeCurrency{Name: "xDAI", Symbol: "XDAI", Decimals: 18}, RPCs: []string{"https://rpc.gnosischain.com"}, Explorers: []string{"https://gnosisscan.io"}},
	{ChainID: 137, Name: "Polygon", Currency: model.NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18}, RPCs: []string{"https://polygon-rpc.com"}, Explorers: []string{"https://polygonscan.com"}},
	{ChainID: 146, Name: "Sonic", Currency: model.NativeCurrency{Name: "Sonic", Symbol: "S", Decimals: 18}, RPCs: []string{"https://rpc.soniclabs.com"}, Explorers: []string{"https://sonicscan.org"}},
	{ChainID: 252, Name: "Fraxtal", Currency: model.NativeCurrency{Name: "Frax Ether", Symbol: "frxETH", Decimals: 18}, RPCs: []string{"https://rpc.frax.com"}, Explorers: []string{"https://fraxscan.com"}},
	{ChainID: 324, Name: "zkSync Era", Currency: ether, RPCs: []string{"https://mainnet.era.zksync.io"}, Explorers: []string{"https://explorer.zksync.io"}},
	{ChainID: 480, Name: "World Chain", Currency: ether, RPCs: []string{"https://worldchain-mainnet.g.alchemy.com/public"}, Explorers: []string{"https://worldscan.org"}},
	{ChainID: 5000, Name: "Mantle", Currency: model.NativeCurrency{Name: "Mantle", Symbol: "MNT", Decimals: 18}, RPCs: []string{"https://rpc.mantle.xyz"}, Explorers: []string{"https://mantlescan.xyz"}},
	{ChainID: 8453, Name: "Base", Currency: ether, RPCs: []string{"https://mainnet.base.org"}, Explorers: []string{"https://basescan.org"}},
	{ChainID: 42161, Name: "Arbitrum One", Currency: ether, RPCs: []string{"https://arb1.arbitrum.io/rpc"}, Explorers: []string{"https://arbiscan.io"}},
	{ChainID: 42220, Name: "Celo", Currency: model.NativeCurrency{Name: "Celo", Symbol: "CELO", Decimals: 18}, RPCs: []string{"https://forno.celo.org"}, Explorers: []string{"https://celoscan.io"}},
	{ChainID: 43114, Name: "Avalanche C-Chain", Currency: model.NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}, RPCs: []string{"https://api.avax.network/ext/bc/C/rpc"}, Explorers: []string{"https://snowtrace.io"}},
	{ChainID: 57073, Name: "Ink", Currency: ether, RPCs: []string{"https://rpc-gel.inkonchain.com"}, Explorers: []string{"https://explorer.inkonchain.com"}},
	{ChainID: 59144, Name: "Linea", Currency: ether, RPCs: []string{"https://rpc.linea.build"}, Explorers: []string{"https://lineascan.build"}},
	{ChainID: 80094, Name: "Berachain", Currency: model.NativeCurrency{Name: "BERA", Symbol: "BERA", Decimals: 18}, RPCs: []string{"https://rpc.berachain.com"}, Explorers: []string{"https://berascan.com"}},
	{ChainID: 81457, Name: "Blast", Currency: ether, RPCs: []string{"https://rpc.blast.io"}, Explorers: []string{"https://blastscan.io"}},
	{ChainID: 167000, Name: "Taiko", Currency: ether, RPCs: []string{"https://rpc.mainnet.taiko.xyz"}, Explorers: []string{"https://taikoscan.io"}},
	{ChainID: 534352, Name: "Scroll", Currency: ether, RPCs: []string{"https://rpc.scroll.io"}, Explorers: []string{"https://scrollscan.com"}},
}
