package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Multi-field mutations run as Lua scripts so any observer sees either the
// pre- or post-state of an entity, never a half-applied write. Scripts use
// compare-and-update: the caller passes the item id it read, and a concurrent
// change surfaces as ErrConflict instead of clobbering.
//
// Hash values holding slot records are JSON objects
// {"item_id":N,"quantity":N,"durability":N?} so both sides (Go and cjson)
// read the same shape.

var addItemScript = redis.NewScript(`
local item_id = tonumber(ARGV[1])
local qty = tonumber(ARGV[2])
local max_stack = tonumber(ARGV[3])
local stackable = tonumber(ARGV[4]) == 1
local durability = tonumber(ARGV[5])
local max_slots = tonumber(ARGV[6])

local raw = redis.call('HGETALL', KEYS[1])
local slots = {}
local used = {}
for i = 1, #raw, 2 do
  local s = tonumber(raw[i])
  slots[s] = cjson.decode(raw[i+1])
  used[s] = true
end

local changes = {}
local remaining = qty

if stackable then
  local order = {}
  for s in pairs(slots) do order[#order+1] = s end
  table.sort(order)
  for _, s in ipairs(order) do
    if remaining == 0 then break end
    local rec = slots[s]
    if rec.item_id == item_id and rec.quantity < max_stack then
      local add = math.min(max_stack - rec.quantity, remaining)
      rec.quantity = rec.quantity + add
      remaining = remaining - add
      changes[s] = rec
    end
  end
  local s = 0
  while remaining > 0 and s < max_slots do
    if not used[s] then
      local add = math.min(max_stack, remaining)
      local rec = {item_id = item_id, quantity = add}
      if durability >= 0 then rec.durability = durability end
      changes[s] = rec
      used[s] = true
      remaining = remaining - add
    end
    s = s + 1
  end
else
  local s = 0
  while remaining > 0 and s < max_slots do
    if not used[s] then
      local rec = {item_id = item_id, quantity = 1}
      if durability >= 0 then rec.durability = durability end
      changes[s] = rec
      used[s] = true
      remaining = remaining - 1
    end
    s = s + 1
  end
end

if remaining > 0 then
  return {0, 'inventory_full'}
end

local out = {}
for s, rec in pairs(changes) do
  local enc = cjson.encode(rec)
  redis.call('HSET', KEYS[1], tostring(s), enc)
  out[tostring(s)] = rec
end
return {1, cjson.encode(out)}
`)

var moveSlotScript = redis.NewScript(`
local from = ARGV[1]
local to = ARGV[2]
local expect = tonumber(ARGV[3])
local max_stack = tonumber(ARGV[4])

local fv = redis.call('HGET', KEYS[1], from)
if not fv then return {0, 'not_found'} end
local frec = cjson.decode(fv)
if frec.item_id ~= expect then return {0, 'conflict'} end

local tv = redis.call('HGET', KEYS[1], to)
if not tv then
  redis.call('HDEL', KEYS[1], from)
  redis.call('HSET', KEYS[1], to, fv)
  return {1, 'moved'}
end
local trec = cjson.decode(tv)
if trec.item_id == frec.item_id and max_stack > 1 and trec.quantity < max_stack then
  local add = math.min(max_stack - trec.quantity, frec.quantity)
  trec.quantity = trec.quantity + add
  frec.quantity = frec.quantity - add
  redis.call('HSET', KEYS[1], to, cjson.encode(trec))
  if frec.quantity == 0 then
    redis.call('HDEL', KEYS[1], from)
  else
    redis.call('HSET', KEYS[1], from, cjson.encode(frec))
  end
  return {1, 'merged'}
end
redis.call('HSET', KEYS[1], from, tv)
redis.call('HSET', KEYS[1], to, fv)
return {1, 'swapped'}
`)

var equipScript = redis.NewScript(`
local inv_slot = ARGV[1]
local eq_slot = ARGV[2]
local expect = tonumber(ARGV[3])
local two_handed = tonumber(ARGV[4]) == 1
local max_stack = tonumber(ARGV[5])
local max_slots = tonumber(ARGV[6])
local displace_weapon = tonumber(ARGV[7])

local iv = redis.call('HGET', KEYS[1], inv_slot)
if not iv then return {0, 'not_found'} end
local irec = cjson.decode(iv)
if irec.item_id ~= expect then return {0, 'conflict'} end

local cur = redis.call('HGET', KEYS[2], eq_slot)

if eq_slot == 'ammo' and cur then
  local crec = cjson.decode(cur)
  if crec.item_id == irec.item_id then
    local space = max_stack - crec.quantity
    if space <= 0 then return {0, 'no_space'} end
    local add = math.min(space, irec.quantity)
    crec.quantity = crec.quantity + add
    irec.quantity = irec.quantity - add
    redis.call('HSET', KEYS[2], eq_slot, cjson.encode(crec))
    if irec.quantity == 0 then
      redis.call('HDEL', KEYS[1], inv_slot)
    else
      redis.call('HSET', KEYS[1], inv_slot, cjson.encode(irec))
    end
    return {1, 'merged'}
  end
end

local displaced = {}
local cleared = {}
if cur then displaced[#displaced+1] = cur end
if two_handed then
  local sh = redis.call('HGET', KEYS[2], 'shield')
  if sh then
    displaced[#displaced+1] = sh
    cleared[#cleared+1] = 'shield'
  end
end
if displace_weapon >= 0 then
  local wp = redis.call('HGET', KEYS[2], 'weapon')
  if wp then
    local wrec = cjson.decode(wp)
    if wrec.item_id ~= displace_weapon then return {0, 'conflict'} end
    displaced[#displaced+1] = wp
    cleared[#cleared+1] = 'weapon'
  end
end

local raw = redis.call('HGETALL', KEYS[1])
local used = {}
for i = 1, #raw, 2 do used[tonumber(raw[i])] = true end
used[tonumber(inv_slot)] = nil

local placements = {}
local s = 0
while #placements < #displaced and s < max_slots do
  if not used[s] then
    placements[#placements+1] = s
    used[s] = true
  end
  s = s + 1
end
if #placements < #displaced then return {0, 'no_space'} end

redis.call('HDEL', KEYS[1], inv_slot)
redis.call('HSET', KEYS[2], eq_slot, iv)
for _, slot in ipairs(cleared) do
  redis.call('HDEL', KEYS[2], slot)
end
for i, slot in ipairs(placements) do
  redis.call('HSET', KEYS[1], tostring(slot), displaced[i])
end
return {1, 'equipped'}
`)

var unequipScript = redis.NewScript(`
local eq_slot = ARGV[1]
local max_slots = tonumber(ARGV[2])

local v = redis.call('HGET', KEYS[2], eq_slot)
if not v then return {0, 'not_found'} end

local raw = redis.call('HGETALL', KEYS[1])
local used = {}
for i = 1, #raw, 2 do used[tonumber(raw[i])] = true end
local free = -1
for s = 0, max_slots - 1 do
  if not used[s] then free = s break end
end
if free < 0 then return {0, 'inventory_full'} end

redis.call('HDEL', KEYS[2], eq_slot)
redis.call('HSET', KEYS[1], tostring(free), v)
return {1, free}
`)

var applyDamageScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'current')
if not cur then return {0, 'not_found'} end
cur = tonumber(cur)
local dmg = tonumber(ARGV[1])
if dmg > cur then dmg = cur end
if dmg < 0 then dmg = 0 end
local new = cur - dmg
redis.call('HSET', KEYS[1], 'current', new)
if new == 0 then redis.call('DEL', KEYS[2]) end
return {1, new, dmg}
`)

var healScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'current')
if not cur then return {0, 'not_found'} end
cur = tonumber(cur)
local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
local new = cur + tonumber(ARGV[1])
if new > max then new = max end
redis.call('HSET', KEYS[1], 'current', new)
return {1, new}
`)

var damageEntityScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return {0, 'not_found'} end
if state == 'dying' or state == 'dead' then return {0, 'dead'} end
local cur = tonumber(redis.call('HGET', KEYS[1], 'current_hp'))
local dmg = tonumber(ARGV[1])
if dmg > cur then dmg = cur end
if dmg < 0 then dmg = 0 end
local new = cur - dmg
redis.call('HSET', KEYS[1], 'current_hp', new)
local died = 0
if new == 0 then
  redis.call('HSET', KEYS[1], 'state', 'dying', 'target_player_id', '')
  died = 1
end
return {1, new, dmg, died}
`)

var setPositionScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'map_id', ARGV[2], 'x', ARGV[3], 'y', ARGV[4], 'facing', ARGV[5])
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'last_move_time', ARGV[6])
end
if KEYS[3] ~= KEYS[2] then
  redis.call('HDEL', KEYS[3], ARGV[1])
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3] .. ':' .. ARGV[4])
return 1
`)

var drainSetScript = redis.NewScript(`
local m = redis.call('SMEMBERS', KEYS[1])
redis.call('DEL', KEYS[1])
return m
`)

var claimGroundScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)

var replaceInventoryScript = redis.NewScript(`
local expected = cjson.decode(ARGV[1])
local raw = redis.call('HGETALL', KEYS[1])
local cur = {}
local count = 0
for i = 1, #raw, 2 do
  cur[raw[i]] = raw[i+1]
  count = count + 1
end
local expcount = 0
for slot, rec in pairs(expected) do
  expcount = expcount + 1
  local cv = cur[slot]
  if not cv then return {0, 'conflict'} end
  local crec = cjson.decode(cv)
  if crec.item_id ~= rec.item_id or crec.quantity ~= rec.quantity then
    return {0, 'conflict'}
  end
end
if expcount ~= count then return {0, 'conflict'} end

redis.call('DEL', KEYS[1])
for slot, rec in pairs(cjson.decode(ARGV[2])) do
  redis.call('HSET', KEYS[1], slot, cjson.encode(rec))
end
return {1, 'ok'}
`)

var removeQuantityScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then return {0, 'not_found'} end
local rec = cjson.decode(v)
if rec.item_id ~= tonumber(ARGV[2]) then return {0, 'conflict'} end
local q = tonumber(ARGV[3])
if q < 0 or q >= rec.quantity then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return {1, rec.quantity, 0}
end
rec.quantity = rec.quantity - q
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(rec))
return {1, q, rec.quantity}
`)

var decrDurabilityScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then return {0, 'not_found'} end
local rec = cjson.decode(v)
if rec.item_id ~= tonumber(ARGV[2]) then return {0, 'conflict'} end
if rec.durability == nil then return {1, -1} end
local dur = rec.durability - tonumber(ARGV[3])
if dur < 0 then dur = 0 end
rec.durability = dur
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(rec))
return {1, dur}
`)

// ==================== script wrappers ====================

func scriptErr(reason string) error {
	switch reason {
	case "not_found":
		return ErrNotFound
	case "conflict":
		return ErrConflict
	case "inventory_full":
		return ErrInventoryFull
	case "no_space":
		return ErrNoSpace
	case "dead":
		return ErrDead
	}
	return fmt.Errorf("cache: script failure %q", reason)
}

// runStatus executes a script whose reply is {0, reason} or {1, payload...}
// and returns the payload elements.
func (c *Client) runStatus(ctx context.Context, script *redis.Script, keys []string, args ...any) ([]any, error) {
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]any)
	if !ok || len(arr) < 1 {
		return nil, fmt.Errorf("cache: unexpected script reply %T", res)
	}
	status, _ := arr[0].(int64)
	if status == 0 {
		reason := ""
		if len(arr) > 1 {
			reason, _ = arr[1].(string)
		}
		return nil, scriptErr(reason)
	}
	return arr[1:], nil
}

// AddItemStacking places qty of an item into the inventory hash following the
// stacking rule: top up existing stacks in ascending slot order, then use the
// lowest free slots. All-or-nothing; ErrInventoryFull when it cannot fit.
// Returns the changed slots as slot→record JSON.
func (c *Client) AddItemStacking(ctx context.Context, invKey string, itemID int64, qty, maxStack int, stackable bool, durability int, maxSlots int) (string, error) {
	st := 0
	if stackable {
		st = 1
	}
	payload, err := c.runStatus(ctx, addItemScript, []string{invKey},
		itemID, qty, maxStack, st, durability, maxSlots)
	if err != nil {
		return "", err
	}
	out, _ := payload[0].(string)
	return out, nil
}

// MoveSlot moves, merges or swaps two inventory slots. expectItemID is the
// item the caller saw in the from slot.
func (c *Client) MoveSlot(ctx context.Context, invKey string, from, to int, expectItemID int64, maxStack int) (string, error) {
	payload, err := c.runStatus(ctx, moveSlotScript, []string{invKey},
		fmt.Sprint(from), fmt.Sprint(to), expectItemID, maxStack)
	if err != nil {
		return "", err
	}
	action, _ := payload[0].(string)
	return action, nil
}

// Equip moves an inventory item into an equipment slot, displacing the slot's
// occupant (and the shield for a two-hander, or the weapon identified by
// displaceWeaponID when a shield goes on) back into free inventory slots.
// displaceWeaponID < 0 means no weapon displacement.
func (c *Client) Equip(ctx context.Context, invKey, equipKey string, invSlot int, eqSlot string, expectItemID int64, twoHanded bool, maxStack, maxSlots int, displaceWeaponID int64) error {
	th := 0
	if twoHanded {
		th = 1
	}
	_, err := c.runStatus(ctx, equipScript, []string{invKey, equipKey},
		fmt.Sprint(invSlot), eqSlot, expectItemID, th, maxStack, maxSlots, displaceWeaponID)
	return err
}

// Unequip moves an equipment slot's item into the lowest free inventory slot.
// Returns the receiving slot index.
func (c *Client) Unequip(ctx context.Context, invKey, equipKey string, eqSlot string, maxSlots int) (int, error) {
	payload, err := c.runStatus(ctx, unequipScript, []string{invKey, equipKey},
		eqSlot, maxSlots)
	if err != nil {
		return 0, err
	}
	slot, _ := payload[0].(int64)
	return int(slot), nil
}

// ApplyDamage clamp-decrements the hp hash and, when the result hits zero,
// deletes the combat key in the same atomic step.
func (c *Client) ApplyDamage(ctx context.Context, hpKey, combatKey string, damage int) (newHP, dealt int, err error) {
	payload, err := c.runStatus(ctx, applyDamageScript, []string{hpKey, combatKey}, damage)
	if err != nil {
		return 0, 0, err
	}
	nh, _ := payload[0].(int64)
	d, _ := payload[1].(int64)
	return int(nh), int(d), nil
}

// Heal cap-increments the hp hash. Returns the new current hp.
func (c *Client) Heal(ctx context.Context, hpKey string, amount int) (int, error) {
	payload, err := c.runStatus(ctx, healScript, []string{hpKey}, amount)
	if err != nil {
		return 0, err
	}
	nh, _ := payload[0].(int64)
	return int(nh), nil
}

// DamageEntity clamp-decrements an entity hash's current_hp; on zero it flips
// state to dying and clears the target in the same step.
func (c *Client) DamageEntity(ctx context.Context, entityKey string, damage int) (newHP, dealt int, died bool, err error) {
	payload, err := c.runStatus(ctx, damageEntityScript, []string{entityKey}, damage)
	if err != nil {
		return 0, 0, false, err
	}
	nh, _ := payload[0].(int64)
	d, _ := payload[1].(int64)
	dd, _ := payload[2].(int64)
	return int(nh), int(d), dd == 1, nil
}

// SetPosition writes the position hash and maintains the per-map position
// index. moveTime empty leaves last_move_time untouched (teleport keeps the
// cooldown stamp; movement refreshes it).
func (c *Client) SetPosition(ctx context.Context, posKey, newIndexKey, oldIndexKey string, playerID int64, mapID string, x, y int, facing, moveTime string) error {
	return setPositionScript.Run(ctx, c.rdb, []string{posKey, newIndexKey, oldIndexKey},
		playerID, mapID, x, y, facing, moveTime).Err()
}

// DrainSet snapshots and clears a set in one step.
func (c *Client) DrainSet(ctx context.Context, key string) ([]string, error) {
	res, err := drainSetScript.Run(ctx, c.rdb, []string{key}).Result()
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("cache: unexpected drain reply %T", res)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out, nil
}

// ClaimGround removes a ground item record; the first caller wins. Returns
// false when the record was already claimed or expired.
func (c *Client) ClaimGround(ctx context.Context, groundKey, despawnKey, dirtyKey string, groundID int64, member string) (bool, error) {
	res, err := claimGroundScript.Run(ctx, c.rdb, []string{groundKey, despawnKey, dirtyKey},
		groundID, member).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReplaceInventory rewrites the whole inventory hash if it still matches the
// expected snapshot (item ids and quantities per slot).
func (c *Client) ReplaceInventory(ctx context.Context, invKey, expectedJSON, newJSON string) error {
	_, err := c.runStatus(ctx, replaceInventoryScript, []string{invKey}, expectedJSON, newJSON)
	return err
}

// RemoveQuantity removes qty from a slot (qty < 0 removes the whole stack),
// deleting the slot when it empties. Returns removed and remaining counts.
func (c *Client) RemoveQuantity(ctx context.Context, invKey string, slot int, expectItemID int64, qty int) (removed, remaining int, err error) {
	payload, err := c.runStatus(ctx, removeQuantityScript, []string{invKey},
		fmt.Sprint(slot), expectItemID, qty)
	if err != nil {
		return 0, 0, err
	}
	rm, _ := payload[0].(int64)
	rem, _ := payload[1].(int64)
	return int(rm), int(rem), nil
}

// DecrDurability lowers a equipped item's durability by loss, floored at 0.
// Returns -1 when the item carries no durability.
func (c *Client) DecrDurability(ctx context.Context, equipKey, eqSlot string, expectItemID int64, loss int) (int, error) {
	payload, err := c.runStatus(ctx, decrDurabilityScript, []string{equipKey},
		eqSlot, expectItemID, loss)
	if err != nil {
		return 0, err
	}
	dur, _ := payload[0].(int64)
	return int(dur), nil
}
