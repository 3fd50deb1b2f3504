package types

// GasCosts is the gas cost table charged by host functions and the
// transaction surface. All costs are in native gas units.
type GasCosts struct {
	TxUpload              uint64 `cbor:"tx_upload"`
	TxUploadPerByte       uint64 `cbor:"tx_upload_per_byte"`
	TxInstantiate         uint64 `cbor:"tx_instantiate"`
	TxCall                uint64 `cbor:"tx_call"`
	TxUpgrade             uint64 `cbor:"tx_upgrade"`
	TxChangeUpgradePolicy uint64 `cbor:"tx_change_upgrade_policy"`

	SubcallDispatch uint64 `cbor:"subcall_dispatch"`

	WasmStorageGetBase    uint64 `cbor:"wasm_storage_get_base"`
	WasmStorageInsertBase uint64 `cbor:"wasm_storage_insert_base"`
	WasmStorageRemoveBase uint64 `cbor:"wasm_storage_remove_base"`
	WasmStorageKeyByte    uint64 `cbor:"wasm_storage_key_byte"`
	WasmStorageValueByte  uint64 `cbor:"wasm_storage_value_byte"`
	WasmEnvQueryBase      uint64 `cbor:"wasm_env_query_base"`

	WasmCryptoECDSARecover             uint64 `cbor:"wasm_crypto_ecdsa_recover"`
	WasmCryptoSignatureVerifyEd25519   uint64 `cbor:"wasm_crypto_signature_verify_ed25519"`
	WasmCryptoSignatureVerifySecp256k1 uint64 `cbor:"wasm_crypto_signature_verify_secp256k1"`
}

// DefaultGasCosts returns the default gas cost table.
func DefaultGasCosts() GasCosts {
	return GasCosts{
		TxUpload:              0,
		TxUploadPerByte:       0,
		TxInstantiate:         0,
		TxCall:                0,
		TxUpgrade:             0,
		TxChangeUpgradePolicy: 0,

		SubcallDispatch: 100,

		WasmStorageGetBase:    20,
		WasmStorageInsertBase: 20,
		WasmStorageRemoveBase: 20,
		WasmStorageKeyByte:    1,
		WasmStorageValueByte:  1,
		WasmEnvQueryBase:      10,

		WasmCryptoECDSARecover:             20,
		WasmCryptoSignatureVerifyEd25519:   32,
		WasmCryptoSignatureVerifySecp256k1: 64,
	}
}

// Parameters are the configurable resource limits of the module.
type Parameters struct {
	MaxCodeSize    uint32 `cbor:"max_code_size"`
	MaxStackSize   uint32 `cbor:"max_stack_size"`
	MaxMemoryPages uint32 `cbor:"max_memory_pages"`

	MaxSubcallDepth uint16 `cbor:"max_subcall_depth"`
	MaxSubcallCount uint16 `cbor:"max_subcall_count"`

	MaxResultSizeBytes       uint32 `cbor:"max_result_size_bytes"`
	MaxQuerySizeBytes        uint32 `cbor:"max_query_size_bytes"`
	MaxStorageKeySizeBytes   uint32 `cbor:"max_storage_key_size_bytes"`
	MaxStorageValueSizeBytes uint32 `cbor:"max_storage_value_size_bytes"`

	MaxCryptoSignatureVerifyMessageSizeBytes uint32 `cbor:"max_crypto_signature_verify_message_size_bytes"`

	GasCosts GasCosts `cbor:"gas_costs"`
}

// DefaultParameters returns the default module parameters.
func DefaultParameters() Parameters {
	return Parameters{
		MaxCodeSize:    512 * 1024,
		MaxStackSize:   60 * 1024,
		MaxMemoryPages: 20,

		MaxSubcallDepth: 8,
		MaxSubcallCount: 16,

		MaxResultSizeBytes:       1024,
		MaxQuerySizeBytes:        1024,
		MaxStorageKeySizeBytes:   64,
		MaxStorageValueSizeBytes: 16 * 1024,

		MaxCryptoSignatureVerifyMessageSizeBytes: 16 * 1024,

		GasCosts: DefaultGasCosts(),
	}
}
