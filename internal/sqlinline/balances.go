package sqlinline

const QSelectBalance = `--sql b824e08f-39f1-4645-86fa-796ce58acaa3
select token_balance
from user_balances
where user_id = $1::uuid;
`

// QSpendTokens decrements only when the balance covers the amount and writes
// the ledger entry in the same statement. balance_after is null when nothing
// was spent.
const QSpendTokens = `--sql 5ed021e2-9067-45ad-999f-52e6ffefb1f4
with spent as (
    update user_balances
    set token_balance = token_balance - $2::int,
        updated_at = now()
    where user_id = $1::uuid
      and token_balance >= $2::int
    returning user_id, token_balance
),
entry as (
    insert into token_transactions (id, user_id, amount, reason, job_id, balance_after, created_at)
    select gen_random_uuid(), spent.user_id, -$2::int, $3::text, nullif($4::text, '')::uuid, spent.token_balance, now()
    from spent
    returning balance_after
)
select
    exists (select 1 from user_balances where user_id = $1::uuid) as found,
    (select balance_after from entry) as balance_after;
`

const QCreditTokens = `--sql 35b7544c-1b22-41de-b3a5-67c67489856f
with credited as (
    update user_balances
    set token_balance = token_balance + $2::int,
        updated_at = now()
    where user_id = $1::uuid
    returning user_id, token_balance
),
entry as (
    insert into token_transactions (id, user_id, amount, reason, job_id, balance_after, created_at)
    select gen_random_uuid(), credited.user_id, $2::int, $3::text, nullif($4::text, '')::uuid, credited.token_balance, now()
    from credited
    returning balance_after
)
select balance_after from entry;
`

const QEnsureBalance = `--sql 48995678-cab9-4f35-b40f-c8b03da28172
insert into user_balances (user_id, token_balance, updated_at)
values ($1::uuid, 0, now())
on conflict (user_id) do nothing;
`

const QSumJobTransactions = `--sql 47243056-53c2-415a-8ee3-40cd981426f6
select coalesce(sum(amount), 0)
from token_transactions
where job_id = $1::uuid;
`
