package sqlinline

const QSelectPrice = `--sql 5acf34fa-a92a-4a79-b380-c8d2812b0ae2
select tokens_cost
from pricing
where operation = $1::text;
`

const QUpsertPrice = `--sql 6e452be0-2773-4a71-83ac-4bc027497590
insert into pricing (operation, tokens_cost, updated_at)
values ($1::text, $2::int, now())
on conflict (operation) do update set
    tokens_cost = excluded.tokens_cost,
    updated_at = now();
`
